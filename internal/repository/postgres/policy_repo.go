package postgres

/*
policy_repo.go stores the versioned policy aggregate (kill switch plus
exemptions) as a single jsonb row. The aggregate is small and always read and
written whole, so one row with a version column gives the same check-and-set
discipline as the proposal transitions without per-exemption tables.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/capgov/internal/domain"
)

// LoadPolicyState returns (nil, nil) when nothing has been saved yet, so the
// manager can seed the configured default.
func (s *Store) LoadPolicyState(ctx context.Context) (*domain.PolicyState, error) {
	var version int64
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT version, state FROM policy_state WHERE singleton = TRUE`).Scan(&version, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: load policy state: %w", err)
	}

	var st domain.PolicyState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("postgres: decode policy state: %w", err)
	}
	st.Version = version
	return &st, nil
}

// SavePolicyState writes the aggregate expecting the stored version to still
// be expectedVersion. expectedVersion 0 covers both "row at version 0" and
// "no row yet", which the upsert handles in one statement.
func (s *Store) SavePolicyState(ctx context.Context, st domain.PolicyState, expectedVersion int64) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("postgres: encode policy state: %w", err)
	}

	if expectedVersion == 0 {
		ct, err := s.pool.Exec(ctx, `
			INSERT INTO policy_state (singleton, version, state)
			VALUES (TRUE, $1, $2)
			ON CONFLICT (singleton) DO UPDATE
			SET version = EXCLUDED.version, state = EXCLUDED.state
			WHERE policy_state.version = 0`,
			st.Version, raw)
		if err != nil {
			return fmt.Errorf("postgres: save policy state: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return domain.ErrStatusConflict
		}
		return nil
	}

	ct, err := s.pool.Exec(ctx, `
		UPDATE policy_state SET version = $1, state = $2
		WHERE singleton = TRUE AND version = $3`,
		st.Version, raw, expectedVersion)
	if err != nil {
		return fmt.Errorf("postgres: save policy state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}
