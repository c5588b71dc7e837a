package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/behzadon/flashpoll/internal/metrics"
	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTTL = 30 * time.Second

// generationTTL bounds how long a link's write generation is remembered. It
// only has to outlive a single cache miss.
const generationTTL = time.Hour

// fillScript writes KEYS[1] only while the generation in KEYS[2] still equals
// ARGV[1], the value seen before the store read. A Mutate committed in
// between bumps the generation and the stale fill is dropped.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or ''
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// CachedRepository fronts a domain.Repository with Redis for lookups by link,
// the read path every shared poll URL takes. Entries never outlive the poll's
// expiry, so a swept poll cannot be served from cache.
type CachedRepository struct {
	next   domain.Repository
	client redis.Cmdable
	clock  clock.Clock
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedRepository(next domain.Repository, client redis.Cmdable, clk clock.Clock, ttl time.Duration, logger *zap.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedRepository{
		next:   next,
		client: client,
		clock:  clk,
		ttl:    ttl,
		logger: logger,
	}
}

func linkKey(link string) string {
	return fmt.Sprintf("poll:link:%s", link)
}

func generationKey(link string) string {
	return fmt.Sprintf("poll:link:%s:gen", link)
}

func (c *CachedRepository) Create(ctx context.Context, poll *domain.Poll) error {
	return c.next.Create(ctx, poll)
}

func (c *CachedRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	return c.next.GetByID(ctx, id)
}

func (c *CachedRepository) GetByLink(ctx context.Context, link string) (*domain.Poll, error) {
	data, err := c.client.Get(ctx, linkKey(link)).Bytes()
	switch {
	case err == nil:
		var poll domain.Poll
		if err := json.Unmarshal(data, &poll); err == nil {
			metrics.RecordCacheOperation("get_poll", true)
			return &poll, nil
		}
		c.logger.Warn("Dropping undecodable cache entry", zap.String("link", link))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("Poll cache read failed", zap.String("link", link), zap.Error(err))
	}
	metrics.RecordCacheOperation("get_poll", false)

	gen, genErr := c.client.Get(ctx, generationKey(link)).Result()
	if errors.Is(genErr, redis.Nil) {
		gen, genErr = "", nil
	}

	poll, err := c.next.GetByLink(ctx, link)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		c.logger.Warn("Poll cache generation read failed", zap.String("link", link), zap.Error(genErr))
		return poll, nil
	}
	c.store(ctx, poll, gen)
	return poll, nil
}

func (c *CachedRepository) store(ctx context.Context, poll *domain.Poll, gen string) {
	ttl := poll.ExpiresAt.Sub(c.clock.Now())
	if ttl < time.Millisecond {
		return
	}
	if ttl > c.ttl {
		ttl = c.ttl
	}

	data, err := json.Marshal(poll)
	if err != nil {
		c.logger.Warn("Failed to encode poll for cache", zap.Error(err))
		return
	}
	written, err := fillScript.Run(ctx, c.client,
		[]string{linkKey(poll.UniqueLink), generationKey(poll.UniqueLink)},
		gen, data, ttl.Milliseconds(),
	).Int()
	if err != nil {
		c.logger.Warn("Poll cache write failed", zap.String("link", poll.UniqueLink), zap.Error(err))
		return
	}
	metrics.RecordCacheOperation("set_poll", written == 1)
}

// Mutate invalidates instead of writing through, since concurrent writers
// finish in any order. Bumping the generation stops a reader that
// fetched the record before this commit from caching it afterwards.
func (c *CachedRepository) Mutate(ctx context.Context, id uuid.UUID, fn domain.MutateFunc) (*domain.Poll, error) {
	poll, err := c.next.Mutate(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(poll.UniqueLink))
		pipe.Expire(ctx, generationKey(poll.UniqueLink), generationTTL)
		pipe.Del(ctx, linkKey(poll.UniqueLink))
		return nil
	})
	if err != nil {
		c.logger.Warn("Poll cache invalidation failed", zap.String("link", poll.UniqueLink), zap.Error(err))
	}
	return poll, nil
}

func (c *CachedRepository) ListRecentPublic(ctx context.Context, now time.Time, limit int) ([]domain.Poll, error) {
	return c.next.ListRecentPublic(ctx, now, limit)
}

func (c *CachedRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return c.next.DeleteExpired(ctx, now)
}
