package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/behzadon/flashpoll/internal/storage/memory"
	"github.com/behzadon/flashpoll/internal/storage/storetest"
	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingStore struct {
	*memory.Store
	linkReads atomic.Int32
	// afterLinkRead runs once the record is read, before the cache is filled
	afterLinkRead func()
}

func (s *countingStore) GetByLink(ctx context.Context, link string) (*domain.Poll, error) {
	s.linkReads.Add(1)
	poll, err := s.Store.GetByLink(ctx, link)
	if hook := s.afterLinkRead; hook != nil {
		s.afterLinkRead = nil
		hook()
	}
	return poll, err
}

func setupCache(t *testing.T, ttl time.Duration) (*CachedRepository, *countingStore, *miniredis.Miniredis, *clock.Mock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewMock()
	clk.Set(storetest.Base)

	store := &countingStore{Store: memory.NewStore()}
	return NewCachedRepository(store, client, clk, ttl, zap.NewNop()), store, mr, clk
}

func TestCachedRepository_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Repository {
		repo, _, _, _ := setupCache(t, time.Minute)
		return repo
	}, storetest.Options{Concurrent: true, Concurrency: 50})
}

func TestCachedRepository_GetByLinkHitsCacheSecondTime(t *testing.T) {
	repo, store, mr, _ := setupCache(t, time.Minute)
	ctx := context.Background()
	poll := storetest.NewPoll("cachelink0", storetest.Base, time.Hour, false)
	require.NoError(t, repo.Create(ctx, poll))

	first, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)
	second, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)

	assert.Equal(t, int32(1), store.linkReads.Load())
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, mr.Exists(linkKey(poll.UniqueLink)))
	assert.Equal(t, time.Minute, mr.TTL(linkKey(poll.UniqueLink)))
}

func TestCachedRepository_TTLCappedAtExpiry(t *testing.T) {
	repo, _, mr, _ := setupCache(t, time.Hour)
	ctx := context.Background()
	poll := storetest.NewPoll("shortlived", storetest.Base, 10*time.Second, false)
	require.NoError(t, repo.Create(ctx, poll))

	_, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, mr.TTL(linkKey(poll.UniqueLink)))
}

func TestCachedRepository_ExpiredPollNotCached(t *testing.T) {
	repo, store, mr, clk := setupCache(t, time.Minute)
	ctx := context.Background()
	poll := storetest.NewPoll("pastlink00", storetest.Base, time.Minute, false)
	require.NoError(t, repo.Create(ctx, poll))
	clk.Add(2 * time.Minute)

	_, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)
	_, err = repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)

	assert.False(t, mr.Exists(linkKey(poll.UniqueLink)))
	assert.Equal(t, int32(2), store.linkReads.Load())
}

func TestCachedRepository_MutateInvalidates(t *testing.T) {
	repo, _, mr, _ := setupCache(t, time.Minute)
	ctx := context.Background()
	poll := storetest.NewPoll("votelink00", storetest.Base, time.Hour, false)
	require.NoError(t, repo.Create(ctx, poll))

	_, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)
	require.True(t, mr.Exists(linkKey(poll.UniqueLink)))

	_, err = repo.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
		p.Options[2].Votes++
		p.TotalVotes++
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(linkKey(poll.UniqueLink)))

	got, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalVotes)
}

func TestCachedRepository_RedisDownFallsThrough(t *testing.T) {
	repo, store, mr, _ := setupCache(t, time.Minute)
	ctx := context.Background()
	poll := storetest.NewPoll("downlink00", storetest.Base, time.Hour, false)
	require.NoError(t, repo.Create(ctx, poll))

	mr.Close()

	got, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)
	assert.Equal(t, poll.ID, got.ID)
	assert.Equal(t, int32(1), store.linkReads.Load())
}

func TestCachedRepository_MissRacingMutateDoesNotCacheStaleRecord(t *testing.T) {
	repo, store, mr, _ := setupCache(t, time.Minute)
	ctx := context.Background()
	poll := storetest.NewPoll("racefill00", storetest.Base, time.Hour, false)
	require.NoError(t, repo.Create(ctx, poll))

	store.afterLinkRead = func() {
		_, err := repo.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
			p.Options[0].Votes++
			p.TotalVotes++
			return nil
		})
		require.NoError(t, err)
	}

	stale, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)
	assert.Equal(t, 0, stale.TotalVotes, "the racing read returns what it read")
	assert.False(t, mr.Exists(linkKey(poll.UniqueLink)), "the pre-vote record must not be cached")

	got, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalVotes)
	assert.Equal(t, 1, got.Options[0].Votes)

	cached, err := repo.GetByLink(ctx, poll.UniqueLink)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.TotalVotes)
	assert.Equal(t, int32(2), store.linkReads.Load())
}

func TestCachedRepository_MutateBumpsGeneration(t *testing.T) {
	repo, _, mr, _ := setupCache(t, time.Minute)
	ctx := context.Background()
	poll := storetest.NewPoll("genlink000", storetest.Base, time.Hour, false)
	require.NoError(t, repo.Create(ctx, poll))

	for i := 0; i < 2; i++ {
		_, err := repo.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
			p.Reactions.Likes++
			return nil
		})
		require.NoError(t, err)
	}

	gen, err := mr.Get(generationKey(poll.UniqueLink))
	require.NoError(t, err)
	assert.Equal(t, "2", gen)
	assert.Equal(t, generationTTL, mr.TTL(generationKey(poll.UniqueLink)))
}
