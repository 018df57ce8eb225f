package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/capgov/internal/domain"
)

// FindDelegation fetches the newest grant issued to the agent by the owner.
// (nil, nil) means no grant exists; the resolver turns that into a denial.
// Expiry and revocation are deliberately NOT filtered here so the resolver can
// report the precise reason code instead of a generic "missing".
func (s *Store) FindDelegation(ctx context.Context, agentUID, ownerUID string) (*domain.Delegation, error) {
	query := `
		SELECT id, agent_uid, owner_uid, scopes, issued_at, expires_at, revoked_at
		FROM delegations
		WHERE agent_uid = $1 AND owner_uid = $2
		ORDER BY issued_at DESC
		LIMIT 1`

	var d domain.Delegation
	err := s.pool.QueryRow(ctx, query, agentUID, ownerUID).Scan(
		&d.ID, &d.AgentUID, &d.OwnerUID, &d.Scopes,
		&d.IssuedAt, &d.ExpiresAt, &d.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: find delegation: %w", err)
	}
	return &d, nil
}
