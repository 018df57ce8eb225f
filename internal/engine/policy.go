package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/infra"
)

// PolicyStore persists the versioned policy aggregate.
type PolicyStore interface {
	// LoadPolicyState returns (nil, nil) when no state has been saved yet.
	LoadPolicyState(ctx context.Context) (*domain.PolicyState, error)

	// SavePolicyState writes st (st.Version must be expectedVersion+1) and
	// fails with domain.ErrStatusConflict when the stored version moved.
	SavePolicyState(ctx context.Context, st domain.PolicyState, expectedVersion int64) error
}

// PolicyManager holds the process-wide policy aggregate: kill switch plus
// exemptions. Reads are served from memory (hot path); mutations go through
// the store with check-and-set on the version and are broadcast over Redis
// so peer instances refresh.
type PolicyManager struct {
	store  PolicyStore
	sink   audit.Sink
	rdb    *redis.Client // nil in single-instance deployments
	logger *zap.Logger

	minRationaleLen int
	metrics         *Metrics

	state *guardedState
}

func NewPolicyManager(store PolicyStore, sink audit.Sink, rdb *redis.Client, logger *zap.Logger, minRationaleLen int, metrics *Metrics) *PolicyManager {
	return &PolicyManager{
		store:           store,
		sink:            sink,
		rdb:             rdb,
		logger:          logger.Named("policy"),
		minRationaleLen: minRationaleLen,
		metrics:         metrics,
		state:           newGuardedState(),
	}
}

// Init performs the cold load of the aggregate. killSwitchDefault applies
// only when the store holds nothing yet.
func (m *PolicyManager) Init(ctx context.Context, killSwitchDefault bool) error {
	st, err := m.store.LoadPolicyState(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		st = &domain.PolicyState{
			Version:    0,
			KillSwitch: domain.KillSwitch{Enabled: killSwitchDefault},
		}
	}
	m.state.replace(*st)
	m.metrics.PolicyVersion.Set(float64(st.Version))
	return nil
}

// Refresh re-reads the aggregate from the store (pub/sub driven).
func (m *PolicyManager) Refresh(ctx context.Context) error {
	st, err := m.store.LoadPolicyState(ctx)
	if err != nil || st == nil {
		return err
	}
	m.state.replace(*st)
	m.metrics.PolicyVersion.Set(float64(st.Version))
	return nil
}

// StartListener keeps this instance's aggregate in sync with peers. No-op
// without Redis.
func (m *PolicyManager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	ListenResilient(ctx, m.rdb, m.logger, infra.RedisChanPolicyUpdate,
		func() error { return m.Refresh(ctx) },
		func(string) { _ = m.Refresh(ctx) },
	)
}

// State returns a copy of the current aggregate.
func (m *PolicyManager) State() domain.PolicyState {
	return m.state.snapshot()
}

// ExecutionBlocked is the hot-path check used at create and re-checked at
// execute.
func (m *PolicyManager) ExecutionBlocked(capabilityID, ownerUID string, now time.Time) bool {
	st := m.state.snapshot()
	return st.ExecutionBlocked(capabilityID, ownerUID, now)
}

// SetKillSwitch toggles the global override.
func (m *PolicyManager) SetKillSwitch(ctx context.Context, principal domain.Principal, enabled bool, rationale string) (domain.Decision, error) {
	if len(rationale) < m.minRationaleLen {
		return domain.Deny(domain.ReasonRationaleTooShort, "kill-switch rationale below minimum length"), nil
	}

	mutate := func(st *domain.PolicyState) {
		st.KillSwitch = domain.KillSwitch{
			Enabled:   enabled,
			Rationale: rationale,
			ChangedBy: principal.ID,
			ChangedAt: time.Now().UTC(),
		}
	}
	if err := m.commit(ctx, mutate); err != nil {
		return domain.Decision{}, err
	}

	if err := m.sink.LogSync(ctx, audit.Event{
		ActorType: domain.ActorStaff,
		ActorID:   principal.ID,
		Action:    audit.ActionKillSwitchChanged,
		Rationale: rationale,
		Metadata:  map[string]string{"enabled": boolStr(enabled)},
	}); err != nil {
		return domain.Decision{}, err
	}

	m.logger.Warn("kill switch changed",
		zap.Bool("enabled", enabled),
		zap.String("by", principal.ID),
	)
	return domain.Allow(), nil
}

// CreateExemption registers a scoped kill-switch bypass.
func (m *PolicyManager) CreateExemption(ctx context.Context, principal domain.Principal, capabilityID, ownerUID, justification string, expiresAt time.Time) (*domain.Exemption, domain.Decision, error) {
	if capabilityID == "" {
		return nil, domain.Deny(domain.ReasonInvalidRequest, "capability_id is required"), nil
	}
	if len(justification) < m.minRationaleLen {
		return nil, domain.Deny(domain.ReasonRationaleTooShort, "exemption justification below minimum length"), nil
	}
	if !expiresAt.After(time.Now()) {
		return nil, domain.Deny(domain.ReasonInvalidRequest, "exemption expiry must be in the future"), nil
	}

	ex := domain.Exemption{
		ID:            uuid.NewString(),
		CapabilityID:  capabilityID,
		OwnerUID:      ownerUID,
		Justification: justification,
		ApprovedBy:    principal.ID,
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     expiresAt,
	}

	if err := m.commit(ctx, func(st *domain.PolicyState) {
		st.Exemptions = append(st.Exemptions, ex)
	}); err != nil {
		return nil, domain.Decision{}, err
	}

	if err := m.sink.LogSync(ctx, audit.Event{
		ActorType: domain.ActorStaff,
		ActorID:   principal.ID,
		Action:    audit.ActionExemptionCreated,
		Target:    ex.ID,
		Rationale: justification,
		Metadata: map[string]string{
			"capability_id": capabilityID,
			"owner_uid":     ownerUID,
		},
	}); err != nil {
		return nil, domain.Decision{}, err
	}

	return &ex, domain.Allow(), nil
}

// RevokeExemption ends an exemption early.
func (m *PolicyManager) RevokeExemption(ctx context.Context, principal domain.Principal, exemptionID, reason string) (domain.Decision, error) {
	if len(reason) < m.minRationaleLen {
		return domain.Deny(domain.ReasonRationaleTooShort, "revocation reason below minimum length"), nil
	}

	found := false
	now := time.Now().UTC()
	err := m.commit(ctx, func(st *domain.PolicyState) {
		for i := range st.Exemptions {
			if st.Exemptions[i].ID == exemptionID && st.Exemptions[i].RevokedAt == nil {
				t := now
				st.Exemptions[i].RevokedAt = &t
				found = true
				return
			}
		}
	})
	if err != nil {
		return domain.Decision{}, err
	}
	if !found {
		return domain.Deny(domain.ReasonInvalidRequest, "exemption not found or already revoked"), nil
	}

	if err := m.sink.LogSync(ctx, audit.Event{
		ActorType: domain.ActorStaff,
		ActorID:   principal.ID,
		Action:    audit.ActionExemptionRevoked,
		Target:    exemptionID,
		Rationale: reason,
	}); err != nil {
		return domain.Decision{}, err
	}
	return domain.Allow(), nil
}

// commit applies a mutation under check-and-set: load the in-memory version,
// mutate a copy, save expecting that version, retry once from the store on
// conflict (a peer instance moved it).
func (m *PolicyManager) commit(ctx context.Context, mutate func(*domain.PolicyState)) error {
	for attempt := 0; attempt < 2; attempt++ {
		cur := m.state.snapshot()
		next := cur
		next.Exemptions = append([]domain.Exemption(nil), cur.Exemptions...)
		mutate(&next)
		next.Version = cur.Version + 1

		err := m.store.SavePolicyState(ctx, next, cur.Version)
		if err == nil {
			m.state.replace(next)
			m.metrics.PolicyVersion.Set(float64(next.Version))
			m.notify(ctx)
			return nil
		}
		if !errors.Is(err, domain.ErrStatusConflict) {
			return err
		}
		if refreshErr := m.Refresh(ctx); refreshErr != nil {
			return refreshErr
		}
	}
	return domain.ErrStatusConflict
}

func (m *PolicyManager) notify(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	if err := m.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err(); err != nil {
		m.logger.Error("policy update broadcast failed", zap.Error(err))
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
