package engine

import (
	"context"
	"time"

	"github.com/xela07ax/capgov/internal/domain"
)

// ProposalStore is the durable proposal state. Every transition method is
// compare-and-set: it moves the proposal out of the expected source status
// atomically and fails with domain.ErrStatusConflict when a concurrent
// caller already moved it. This is what closes the double-execute race.
type ProposalStore interface {
	Create(ctx context.Context, p *domain.Proposal) error
	Get(ctx context.Context, id string) (*domain.Proposal, error)

	// List returns the most recent proposals, newest first.
	List(ctx context.Context, limit int) ([]*domain.Proposal, error)

	// Approve: pending_approval -> approved.
	Approve(ctx context.Context, id, by string, at time.Time) (*domain.Proposal, error)

	// Reject: pending_approval -> rejected.
	Reject(ctx context.Context, id, by string, at time.Time) (*domain.Proposal, error)

	// Reopen: rejected -> pending_approval.
	Reopen(ctx context.Context, id string, at time.Time) (*domain.Proposal, error)

	// EnsureIdempotencyKey sets the key if the proposal has none yet and
	// returns the effective key, so every retry of the same proposal pins
	// to one external effect.
	EnsureIdempotencyKey(ctx context.Context, id, key string) (string, error)

	// MarkExecuted: approved -> executed.
	MarkExecuted(ctx context.Context, id string, at time.Time) (*domain.Proposal, error)
}
