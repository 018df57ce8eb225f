package quota

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/capgov/internal/domain"
)

// Result of one consume attempt. RetryAfterSeconds is set on denial and is
// always at least 1.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int64
}

// Limiter is a fixed-window counter set. Consume must be atomic per bucket
// key (read-modify-write indivisible) and independent across keys.
type Limiter interface {
	Consume(ctx context.Context, bucketKey string, limit int64, windowSeconds int64, now time.Time) (Result, error)

	// Reset clears one bucket. The caller is responsible for recording the
	// reason — there is no silent reset path in the runtime (see Manager).
	Reset(ctx context.Context, bucketKey string) error

	// List returns the buckets with a live window. Every backend fills Key,
	// Count and RemainingSeconds. Limit, WindowStart and WindowSeconds come
	// only from backends that track them: limits live in configuration, and
	// Redis persists nothing beyond the counter and its TTL.
	List(ctx context.Context, now time.Time) ([]domain.QuotaBucket, error)
}

type window struct {
	count         int64
	start         time.Time
	limit         int64
	windowSeconds int64
}

// MemoryLimiter is the single-node implementation: a mutex-guarded bucket
// map. Sufficient for tests and the memory storage driver.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*window
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*window)}
}

func (l *MemoryLimiter) Consume(_ context.Context, bucketKey string, limit int64, windowSeconds int64, now time.Time) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.buckets[bucketKey]
	if !ok || now.Sub(w.start) >= time.Duration(windowSeconds)*time.Second {
		w = &window{start: now, limit: limit, windowSeconds: windowSeconds}
		l.buckets[bucketKey] = w
	}

	if w.count >= limit {
		return Result{Allowed: false, RetryAfterSeconds: retryAfter(w.start, windowSeconds, now)}, nil
	}
	w.count++
	return Result{Allowed: true}, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, bucketKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, bucketKey)
	return nil
}

func (l *MemoryLimiter) List(_ context.Context, now time.Time) ([]domain.QuotaBucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.QuotaBucket, 0, len(l.buckets))
	for key, w := range l.buckets {
		if now.Sub(w.start) >= time.Duration(w.windowSeconds)*time.Second {
			continue // window elapsed, bucket is logically empty
		}
		out = append(out, domain.QuotaBucket{
			Key:              key,
			Count:            w.count,
			RemainingSeconds: retryAfter(w.start, w.windowSeconds, now),
			Limit:            w.limit,
			WindowStart:      w.start,
			WindowSeconds:    w.windowSeconds,
		})
	}
	return out, nil
}

// retryAfter rounds up to whole seconds, minimum 1s.
func retryAfter(windowStart time.Time, windowSeconds int64, now time.Time) int64 {
	remaining := windowStart.Add(time.Duration(windowSeconds) * time.Second).Sub(now)
	secs := int64((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
