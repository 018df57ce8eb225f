package pilot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/capgov/internal/infra"
)

// ReliableService wraps a NoteService with a client-side rate limiter, a
// circuit breaker and throttle-aware retries. Safe to retry because the
// service is idempotent on the key.
type ReliableService struct {
	next        NoteService
	cb          *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	callTimeout time.Duration
}

func NewReliableService(next NoteService, cfg infra.PilotConfig) *ReliableService {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pilot-note-service",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &ReliableService{
		next:        next,
		cb:          cb,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		callTimeout: cfg.CallTimeout,
	}
}

func (s *ReliableService) Preview(ctx context.Context, req NoteRequest) (string, error) {
	var preview string
	err := s.call(ctx, func(tCtx context.Context) error {
		var callErr error
		preview, callErr = s.next.Preview(tCtx, req)
		return callErr
	})
	return preview, err
}

func (s *ReliableService) Create(ctx context.Context, idempotencyKey string, req NoteRequest) (NoteReceipt, error) {
	var receipt NoteReceipt
	err := s.call(ctx, func(tCtx context.Context) error {
		var callErr error
		receipt, callErr = s.next.Create(tCtx, idempotencyKey, req)
		return callErr
	})
	return receipt, err
}

func (s *ReliableService) Revert(ctx context.Context, idempotencyKey, reason string) error {
	return s.call(ctx, func(tCtx context.Context) error {
		return s.next.Revert(tCtx, idempotencyKey, reason)
	})
}

func (s *ReliableService) call(ctx context.Context, do func(context.Context) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pilot rate limit: %w", err)
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Honor the service's Retry-After when it throttled us,
				// otherwise fall back to exponential backoff.
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
			defer cancel()
			return do(tCtx)
		})
	})
	return err
}
