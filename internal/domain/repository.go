package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MutateFunc edits a private copy of a poll. Returning an error aborts the
// mutation and nothing is written.
type MutateFunc func(poll *Poll) error

// Repository owns every poll record. Mutate is atomic per poll: concurrent
// calls for the same id are serialized and never lose an update.
type Repository interface {
	Create(ctx context.Context, poll *Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*Poll, error)
	GetByLink(ctx context.Context, link string) (*Poll, error)
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Poll, error)
	ListRecentPublic(ctx context.Context, now time.Time, limit int) ([]Poll, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
