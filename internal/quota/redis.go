package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/infra"
)

// RedisLimiter shares fixed-window counters across gateway instances.
// INCR + EXPIRE-on-first-hit: the INCR is the atomic read-modify-write, the
// TTL bounds the window.
type RedisLimiter struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisLimiter(rdb *redis.Client, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, logger: logger.With(zap.String("mod", "quota"))}
}

func (l *RedisLimiter) Consume(ctx context.Context, bucketKey string, limit int64, windowSeconds int64, now time.Time) (Result, error) {
	key := infra.QuotaRedisKey(bucketKey)
	window := time.Duration(windowSeconds) * time.Second

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX: only the first hit of the window sets the TTL; later hits must not
	// slide it.
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("quota consume %s: %w", bucketKey, err)
	}

	count := incr.Val()
	if count <= limit {
		return Result{Allowed: true}, nil
	}

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return Result{Allowed: false, RetryAfterSeconds: secs}, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, bucketKey string) error {
	if err := l.rdb.Del(ctx, infra.QuotaRedisKey(bucketKey)).Err(); err != nil {
		return fmt.Errorf("quota reset %s: %w", bucketKey, err)
	}
	return nil
}

// List scans the quota namespace. Redis holds only the counter and its TTL,
// so buckets carry Count and RemainingSeconds; limit and window length are
// configuration and stay zero here (see Limiter.List).
func (l *RedisLimiter) List(ctx context.Context, _ time.Time) ([]domain.QuotaBucket, error) {
	var out []domain.QuotaBucket
	iter := l.rdb.Scan(ctx, 0, infra.RedisKeyQuotaPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := l.rdb.Get(ctx, key).Result()
		if err != nil {
			continue // bucket expired between scan and read
		}
		count, _ := strconv.ParseInt(val, 10, 64)
		ttl, _ := l.rdb.TTL(ctx, key).Result()
		remaining := int64((ttl + time.Second - 1) / time.Second)
		if remaining < 0 {
			remaining = 0
		}

		out = append(out, domain.QuotaBucket{
			Key:              key[len(infra.RedisKeyQuotaPrefix):],
			Count:            count,
			RemainingSeconds: remaining,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("quota list: %w", err)
	}
	return out, nil
}
