package memory

import (
	"context"

	"github.com/xela07ax/capgov/internal/domain"
)

// FindDelegation returns the newest grant for the pair, or (nil, nil). Like
// the SQL backend it does not filter expiry or revocation; the resolver
// reports the precise reason.
func (s *Store) FindDelegation(_ context.Context, agentUID, ownerUID string) (*domain.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Delegation
	for i := range s.delegations {
		d := &s.delegations[i]
		if d.AgentUID != agentUID || d.OwnerUID != ownerUID {
			continue
		}
		if best == nil || d.IssuedAt.After(best.IssuedAt) {
			best = d
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}
