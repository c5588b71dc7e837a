// Package storetest is the behaviour every domain.Repository backend must
// share. Backend test files call Run with a constructor for a fresh store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Base is a fixed reference time; backends that truncate timestamps keep
// second precision of it intact.
var Base = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

type Options struct {
	// Concurrent enables the lost-update test. Backends that serialize
	// connections can still run it, but slow ones may opt out.
	Concurrent  bool
	Concurrency int
}

func NewPoll(link string, createdAt time.Time, ttl time.Duration, private bool) *domain.Poll {
	return &domain.Poll{
		ID:         uuid.New(),
		UniqueLink: link,
		Question:   "Where to?",
		PollType:   domain.PollTypeMultipleChoice,
		Options:    []domain.Option{{Text: "Beach"}, {Text: "Mountains"}, {Text: "City"}},
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(ttl),
		IsPrivate:  private,
		Comments:   []domain.Comment{},
	}
}

func Run(t *testing.T, newStore func(t *testing.T) domain.Repository, opts Options) {
	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		poll := NewPoll("link000001", Base, time.Hour, false)

		require.NoError(t, store.Create(ctx, poll))

		byID, err := store.GetByID(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, poll.UniqueLink, byID.UniqueLink)
		assert.Equal(t, "Where to?", byID.Question)
		require.Len(t, byID.Options, 3)
		for _, opt := range byID.Options {
			assert.Equal(t, 0, opt.Votes)
		}
		assert.Equal(t, 0, byID.TotalVotes)
		assert.True(t, poll.ExpiresAt.Equal(byID.ExpiresAt))

		byLink, err := store.GetByLink(ctx, poll.UniqueLink)
		require.NoError(t, err)
		assert.Equal(t, poll.ID, byLink.ID)
	})

	t.Run("unknown id and link", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.GetByLink(ctx, "nope000000")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.Mutate(ctx, uuid.New(), func(p *domain.Poll) error { return nil })
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("duplicate link", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Create(ctx, NewPoll("samelink00", Base, time.Hour, false)))
		err := store.Create(ctx, NewPoll("samelink00", Base, time.Hour, false))
		assert.ErrorIs(t, err, domain.ErrDuplicateLink)
	})

	t.Run("returned polls are copies", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		poll := NewPoll("copylink00", Base, time.Hour, false)
		require.NoError(t, store.Create(ctx, poll))

		got, err := store.GetByID(ctx, poll.ID)
		require.NoError(t, err)
		got.Options[0].Votes = 99

		again, err := store.GetByID(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Options[0].Votes)
	})

	t.Run("mutate applies transform", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		poll := NewPoll("mutlink000", Base, time.Hour, false)
		require.NoError(t, store.Create(ctx, poll))

		updated, err := store.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
			p.Options[1].Votes++
			p.TotalVotes++
			p.Reactions.Likes++
			p.Comments = append(p.Comments, domain.Comment{Text: "hello", CreatedAt: Base})
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.Options[1].Votes)
		assert.Equal(t, 1, updated.TotalVotes)

		got, err := store.GetByLink(ctx, poll.UniqueLink)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Options[1].Votes)
		assert.Equal(t, 1, got.TotalVotes)
		assert.Equal(t, 1, got.Reactions.Likes)
		require.Len(t, got.Comments, 1)
		assert.Equal(t, "hello", got.Comments[0].Text)
	})

	t.Run("mutate error writes nothing", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		poll := NewPoll("abortlink0", Base, time.Hour, false)
		require.NoError(t, store.Create(ctx, poll))

		boom := errors.New("boom")
		_, err := store.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
			p.Options[0].Votes++
			p.TotalVotes++
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.GetByID(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Options[0].Votes)
		assert.Equal(t, 0, got.TotalVotes)
	})

	t.Run("list recent public", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := Base.Add(30 * time.Minute)

		for i := 0; i < 12; i++ {
			p := NewPoll(fmt.Sprintf("public%04d", i), Base.Add(time.Duration(i)*time.Second), time.Hour, false)
			require.NoError(t, store.Create(ctx, p))
		}
		require.NoError(t, store.Create(ctx, NewPoll("private000", Base.Add(time.Minute), time.Hour, true)))
		require.NoError(t, store.Create(ctx, NewPoll("expired000", Base.Add(2*time.Minute), time.Minute, false)))

		polls, err := store.ListRecentPublic(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, polls, 10)
		for i, p := range polls {
			assert.False(t, p.IsPrivate)
			assert.False(t, p.ExpiresAt.Before(now), "expired polls are never listed")
			if i > 0 {
				assert.False(t, p.CreatedAt.After(polls[i-1].CreatedAt), "must be createdAt descending")
			}
		}
		assert.Equal(t, "public0011", polls[0].UniqueLink)
	})

	t.Run("poll at exact expiry is listed and kept", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		edge := NewPoll("edgelist00", Base, time.Hour, false)
		require.NoError(t, store.Create(ctx, edge))

		now := edge.ExpiresAt
		polls, err := store.ListRecentPublic(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, polls, 1)
		assert.Equal(t, edge.ID, polls[0].ID)

		deleted, err := store.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)

		polls, err = store.ListRecentPublic(ctx, now.Add(time.Millisecond), 10)
		require.NoError(t, err)
		assert.Empty(t, polls)
		deleted, err = store.DeleteExpired(ctx, now.Add(time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})

	t.Run("delete expired", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		live := NewPoll("livelink00", Base, 2*time.Hour, false)
		dead := NewPoll("deadlink00", Base, time.Hour, false)
		edge := NewPoll("edgelink00", Base, 90*time.Minute, false)
		require.NoError(t, store.Create(ctx, live))
		require.NoError(t, store.Create(ctx, dead))
		require.NoError(t, store.Create(ctx, edge))

		now := Base.Add(90 * time.Minute)
		deleted, err := store.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = store.GetByID(ctx, dead.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.GetByLink(ctx, dead.UniqueLink)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.GetByID(ctx, edge.ID)
		assert.NoError(t, err, "a poll exactly at expiry is not swept")

		deleted, err = store.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted, "sweeping is idempotent")

		// the link becomes reusable once its poll is purged
		assert.NoError(t, store.Create(ctx, NewPoll("deadlink00", now, time.Hour, false)))
	})

	if !opts.Concurrent {
		return
	}

	t.Run("concurrent mutate loses no update", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		poll := NewPoll("racelink00", Base, time.Hour, false)
		require.NoError(t, store.Create(ctx, poll))

		n := opts.Concurrency
		if n == 0 {
			n = 50
		}

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
					p.Options[0].Votes++
					p.TotalVotes++
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		got, err := store.GetByID(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, n, got.Options[0].Votes)
		assert.Equal(t, n, got.TotalVotes)
	})
}
