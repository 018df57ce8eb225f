package memory

import (
	"context"

	"github.com/xela07ax/capgov/internal/domain"
)

func (s *Store) LoadPolicyState(_ context.Context) (*domain.PolicyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return nil, nil
	}
	cp := *s.policy
	cp.Exemptions = append([]domain.Exemption(nil), s.policy.Exemptions...)
	return &cp, nil
}

func (s *Store) SavePolicyState(_ context.Context, st domain.PolicyState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	if s.policy != nil {
		current = s.policy.Version
	}
	if current != expectedVersion {
		return domain.ErrStatusConflict
	}

	cp := st
	cp.Exemptions = append([]domain.Exemption(nil), st.Exemptions...)
	s.policy = &cp
	return nil
}
