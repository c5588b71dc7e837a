package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

const pollColumns = `id, unique_link, question, poll_type, options, total_votes,
	created_at, expires_at, hide_results, is_private, likes, trending, comments, version`

type pollRow struct {
	ID          uuid.UUID `db:"id"`
	UniqueLink  string    `db:"unique_link"`
	Question    string    `db:"question"`
	PollType    string    `db:"poll_type"`
	Options     []byte    `db:"options"`
	TotalVotes  int       `db:"total_votes"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
	HideResults bool      `db:"hide_results"`
	IsPrivate   bool      `db:"is_private"`
	Likes       int       `db:"likes"`
	Trending    int       `db:"trending"`
	Comments    []byte    `db:"comments"`
	Version     int64     `db:"version"`
}

func (r *pollRow) toDomain() (*domain.Poll, error) {
	poll := &domain.Poll{
		ID:          r.ID,
		UniqueLink:  r.UniqueLink,
		Question:    r.Question,
		PollType:    domain.PollType(r.PollType),
		TotalVotes:  r.TotalVotes,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
		HideResults: r.HideResults,
		IsPrivate:   r.IsPrivate,
		Reactions:   domain.Reactions{Likes: r.Likes, Trending: r.Trending},
	}
	if err := json.Unmarshal(r.Options, &poll.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if len(r.Comments) > 0 {
		if err := json.Unmarshal(r.Comments, &poll.Comments); err != nil {
			return nil, fmt.Errorf("unmarshal comments: %w", err)
		}
	}
	if poll.Comments == nil {
		poll.Comments = []domain.Comment{}
	}
	return poll, nil
}

type Repository struct {
	db          *sqlx.DB
	logger      *zap.Logger
	maxAttempts int
}

func NewRepository(db *sqlx.DB, logger *zap.Logger, maxAttempts int) *Repository {
	if maxAttempts <= 0 {
		maxAttempts = domain.MaxMutateAttempts
	}
	return &Repository{
		db:          db,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

func (r *Repository) Create(ctx context.Context, poll *domain.Poll) error {
	options, err := json.Marshal(poll.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	comments, err := json.Marshal(nonNilComments(poll.Comments))
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}

	query := `
		INSERT INTO polls (id, unique_link, question, poll_type, options, total_votes,
			created_at, expires_at, hide_results, is_private, likes, trending, comments, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)`
	_, err = r.db.ExecContext(ctx, query,
		poll.ID, poll.UniqueLink, poll.Question, string(poll.PollType), options, poll.TotalVotes,
		poll.CreatedAt, poll.ExpiresAt, poll.HideResults, poll.IsPrivate,
		poll.Reactions.Likes, poll.Reactions.Trending, comments,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateLink
		}
		return &domain.RepositoryError{Op: "create poll", Err: err}
	}
	return nil
}

func (r *Repository) getRow(ctx context.Context, column string, value interface{}) (*pollRow, error) {
	var row pollRow
	query := `SELECT ` + pollColumns + ` FROM polls WHERE ` + column + ` = $1`
	err := r.db.GetContext(ctx, &row, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.RepositoryError{Op: "get poll by " + column, Err: err}
	}
	return &row, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	row, err := r.getRow(ctx, "id", id)
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (r *Repository) GetByLink(ctx context.Context, link string) (*domain.Poll, error) {
	row, err := r.getRow(ctx, "unique_link", link)
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// Mutate uses optimistic concurrency on the version column. A zero-row update
// means another writer committed first; the record is re-read and the
// transform re-applied, at most maxAttempts times.
func (r *Repository) Mutate(ctx context.Context, id uuid.UUID, fn domain.MutateFunc) (*domain.Poll, error) {
	query := `
		UPDATE polls
		SET options = $1, total_votes = $2, likes = $3, trending = $4, comments = $5,
			version = version + 1
		WHERE id = $6 AND version = $7`

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		row, err := r.getRow(ctx, "id", id)
		if err != nil {
			return nil, err
		}
		poll, err := row.toDomain()
		if err != nil {
			return nil, err
		}

		if err := fn(poll); err != nil {
			return nil, err
		}

		options, err := json.Marshal(poll.Options)
		if err != nil {
			return nil, fmt.Errorf("marshal options: %w", err)
		}
		comments, err := json.Marshal(nonNilComments(poll.Comments))
		if err != nil {
			return nil, fmt.Errorf("marshal comments: %w", err)
		}

		res, err := r.db.ExecContext(ctx, query,
			options, poll.TotalVotes, poll.Reactions.Likes, poll.Reactions.Trending, comments,
			id, row.Version,
		)
		if err != nil {
			return nil, &domain.RepositoryError{Op: "update poll", Err: err}
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, &domain.RepositoryError{Op: "update poll", Err: err}
		}
		if affected == 1 {
			return poll, nil
		}

		r.logger.Debug("Poll update lost a version race, retrying",
			zap.String("poll_id", id.String()),
			zap.Int("attempt", attempt),
		)
	}

	return nil, &domain.RepositoryError{Op: "mutate poll", Err: domain.ErrConflict}
}

func (r *Repository) ListRecentPublic(ctx context.Context, now time.Time, limit int) ([]domain.Poll, error) {
	query := `
		SELECT ` + pollColumns + `
		FROM polls
		WHERE is_private = FALSE AND expires_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`
	var rows []pollRow
	if err := r.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, &domain.RepositoryError{Op: "list recent polls", Err: err}
	}

	polls := make([]domain.Poll, 0, len(rows))
	for i := range rows {
		poll, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		polls = append(polls, *poll)
	}
	return polls, nil
}

// DeleteExpired removes polls whose expiry lies strictly before now, the same
// boundary policy.IsExpired draws.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM polls WHERE expires_at < $1`, now)
	if err != nil {
		return 0, &domain.RepositoryError{Op: "delete expired polls", Err: err}
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.RepositoryError{Op: "delete expired polls", Err: err}
	}
	return deleted, nil
}

func nonNilComments(c []domain.Comment) []domain.Comment {
	if c == nil {
		return []domain.Comment{}
	}
	return c
}
