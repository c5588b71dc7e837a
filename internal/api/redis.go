package api

import (
	"github.com/go-redis/redis/v8"
)

// RedisClient is the subset of the redis client the rate limiter needs.
type RedisClient interface {
	Pipeline() redis.Pipeliner
}
