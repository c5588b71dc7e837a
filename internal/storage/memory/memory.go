// Package memory is the in-process poll store. Records are replaced
// copy-on-write under a map lock and mutations on one poll are serialized by
// a per-poll mutex, so readers never observe a half-applied update.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/behzadon/flashpoll/internal/policy"
	"github.com/google/uuid"
)

type Store struct {
	mu    sync.RWMutex
	polls map[uuid.UUID]*domain.Poll
	links map[string]uuid.UUID
	locks sync.Map
}

func NewStore() *Store {
	return &Store{
		polls: make(map[uuid.UUID]*domain.Poll),
		links: make(map[string]uuid.UUID),
	}
}

func (s *Store) lockFor(id uuid.UUID) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *Store) Create(ctx context.Context, poll *domain.Poll) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.links[poll.UniqueLink]; exists {
		return domain.ErrDuplicateLink
	}
	if _, exists := s.polls[poll.ID]; exists {
		return &domain.RepositoryError{Op: "create poll", Err: domain.ErrConflict}
	}

	s.polls[poll.ID] = poll.Clone()
	s.links[poll.UniqueLink] = poll.ID
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	poll, ok := s.polls[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return poll.Clone(), nil
}

func (s *Store) GetByLink(ctx context.Context, link string) (*domain.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.links[link]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.polls[id].Clone(), nil
}

func (s *Store) Mutate(ctx context.Context, id uuid.UUID, fn domain.MutateFunc) (*domain.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// unknown ids never get a lock entry
	s.mu.RLock()
	_, ok := s.polls[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.polls[id]
	s.mu.RUnlock()
	if !ok {
		s.locks.Delete(id)
		return nil, domain.ErrNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// swept while the transform ran
	if _, ok := s.polls[id]; !ok {
		return nil, domain.ErrNotFound
	}
	s.polls[id] = next
	return next.Clone(), nil
}

func (s *Store) ListRecentPublic(ctx context.Context, now time.Time, limit int) ([]domain.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	polls := make([]domain.Poll, 0, len(s.polls))
	for _, poll := range s.polls {
		// same predicate as DeleteExpired: a poll at exactly ExpiresAt is listed, never swept
		if poll.IsPrivate || policy.IsExpired(poll, now) {
			continue
		}
		polls = append(polls, *poll.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(polls, func(i, j int) bool {
		return polls[i].CreatedAt.After(polls[j].CreatedAt)
	})
	if limit >= 0 && len(polls) > limit {
		polls = polls[:limit]
	}
	return polls, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, poll := range s.polls {
		if !policy.IsExpired(poll, now) {
			continue
		}
		delete(s.polls, id)
		delete(s.links, poll.UniqueLink)
		s.locks.Delete(id)
		deleted++
	}
	return deleted, nil
}

// Len reports the number of stored records, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.polls)
}
