package postgres

/*
proposal_repo.go is the durable side of the proposal state machine.

Transitions use UPDATE ... WHERE status = <expected> RETURNING: the WHERE
clause is the compare-and-set that prevents a Double Decision — two
concurrent approvals, or worse, two concurrent executes — without taking an
application-level lock. Zero rows updated means a concurrent caller won.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/capgov/internal/domain"
)

const proposalColumns = `id, capability_id, actor_type, actor_id, owner_uid, tenant_id,
	rationale, preview_summary, request_input, request_input_hash, expected_effects,
	status, requested_by, approved_by, rejected_by, idempotency_key,
	created_at, approved_at, rejected_at, executed_at`

func (s *Store) Create(ctx context.Context, p *domain.Proposal) error {
	query := `INSERT INTO proposals (` + proposalColumns + `)
	          VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.CapabilityID, p.ActorType, p.ActorID, p.OwnerUID, p.TenantID,
		p.Rationale, p.PreviewSummary, p.RequestInput, p.RequestInputHash, p.ExpectedEffects,
		p.Status, p.RequestedBy, nullStr(p.ApprovedBy), nullStr(p.RejectedBy), nullStr(p.IdempotencyKey),
		p.CreatedAt, p.ApprovedAt, p.RejectedAt, p.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create proposal: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Proposal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProposalNotFound
		}
		return nil, fmt.Errorf("postgres: get proposal: %w", err)
	}
	return p, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*domain.Proposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM proposals ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	// Empty slice, not nil: the JSON surface renders [] instead of null.
	results := make([]*domain.Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return results, nil
}

func (s *Store) Approve(ctx context.Context, id, by string, at time.Time) (*domain.Proposal, error) {
	query := `UPDATE proposals
	          SET status = $1, approved_by = $2, approved_at = $3
	          WHERE id = $4 AND status = $5
	          RETURNING ` + proposalColumns
	return s.transition(ctx, id, query, domain.StatusApproved, by, at, id, domain.StatusPendingApproval)
}

// Reject moves pending_approval -> rejected. The rejection reason itself
// lives on the audit event, not the row.
func (s *Store) Reject(ctx context.Context, id, by string, at time.Time) (*domain.Proposal, error) {
	query := `UPDATE proposals
	          SET status = $1, rejected_by = $2, rejected_at = $3
	          WHERE id = $4 AND status = $5
	          RETURNING ` + proposalColumns
	return s.transition(ctx, id, query, domain.StatusRejected, by, at, id, domain.StatusPendingApproval)
}

func (s *Store) Reopen(ctx context.Context, id string, at time.Time) (*domain.Proposal, error) {
	query := `UPDATE proposals
	          SET status = $1, rejected_by = NULL, rejected_at = NULL
	          WHERE id = $2 AND status = $3
	          RETURNING ` + proposalColumns
	row := s.pool.QueryRow(ctx, query, domain.StatusPendingApproval, id, domain.StatusRejected)
	return s.casResult(ctx, id, row)
}

func (s *Store) MarkExecuted(ctx context.Context, id string, at time.Time) (*domain.Proposal, error) {
	query := `UPDATE proposals
	          SET status = $1, executed_at = $2
	          WHERE id = $3 AND status = $4
	          RETURNING ` + proposalColumns
	row := s.pool.QueryRow(ctx, query, domain.StatusExecuted, at, id, domain.StatusApproved)
	return s.casResult(ctx, id, row)
}

// EnsureIdempotencyKey sets the key only when none is recorded yet and
// returns whichever key ended up on the row, in one round trip.
func (s *Store) EnsureIdempotencyKey(ctx context.Context, id, key string) (string, error) {
	var effective string
	err := s.pool.QueryRow(ctx,
		`UPDATE proposals
		 SET idempotency_key = COALESCE(NULLIF(idempotency_key, ''), $2)
		 WHERE id = $1
		 RETURNING idempotency_key`, id, key).Scan(&effective)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrProposalNotFound
		}
		return "", fmt.Errorf("postgres: ensure idempotency key: %w", err)
	}
	return effective, nil
}

func (s *Store) transition(ctx context.Context, id, query string, args ...any) (*domain.Proposal, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	return s.casResult(ctx, id, row)
}

// casResult distinguishes "no such proposal" from "a concurrent caller moved
// it first" after a zero-row CAS update.
func (s *Store) casResult(ctx context.Context, id string, row pgx.Row) (*domain.Proposal, error) {
	p, err := scanProposal(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: proposal transition: %w", err)
	}
	if _, getErr := s.Get(ctx, id); errors.Is(getErr, domain.ErrProposalNotFound) {
		return nil, domain.ErrProposalNotFound
	}
	return nil, domain.ErrStatusConflict
}

func scanProposal(row pgx.Row) (*domain.Proposal, error) {
	var p domain.Proposal
	var approvedBy, rejectedBy, idemKey sql.NullString
	var previewSummary, expectedEffects sql.NullString

	err := row.Scan(
		&p.ID, &p.CapabilityID, &p.ActorType, &p.ActorID, &p.OwnerUID, &p.TenantID,
		&p.Rationale, &previewSummary, &p.RequestInput, &p.RequestInputHash, &expectedEffects,
		&p.Status, &p.RequestedBy, &approvedBy, &rejectedBy, &idemKey,
		&p.CreatedAt, &p.ApprovedAt, &p.RejectedAt, &p.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	p.PreviewSummary = previewSummary.String
	p.ExpectedEffects = expectedEffects.String
	p.ApprovedBy = approvedBy.String
	p.RejectedBy = rejectedBy.String
	p.IdempotencyKey = idemKey.String
	return &p, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
