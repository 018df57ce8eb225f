package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xela07ax/capgov/internal/domain"
)

func (s *Store) Create(_ context.Context, p *domain.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, domain.ErrProposalNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) List(_ context.Context, limit int) ([]*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*domain.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		cp := *p
		results = append(results, &cp)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) Approve(_ context.Context, id, by string, at time.Time) (*domain.Proposal, error) {
	return s.transition(id, domain.StatusPendingApproval, func(p *domain.Proposal) {
		p.Status = domain.StatusApproved
		p.ApprovedBy = by
		t := at
		p.ApprovedAt = &t
	})
}

func (s *Store) Reject(_ context.Context, id, by string, at time.Time) (*domain.Proposal, error) {
	return s.transition(id, domain.StatusPendingApproval, func(p *domain.Proposal) {
		p.Status = domain.StatusRejected
		p.RejectedBy = by
		t := at
		p.RejectedAt = &t
	})
}

func (s *Store) Reopen(_ context.Context, id string, _ time.Time) (*domain.Proposal, error) {
	return s.transition(id, domain.StatusRejected, func(p *domain.Proposal) {
		p.Status = domain.StatusPendingApproval
		p.RejectedBy = ""
		p.RejectedAt = nil
	})
}

func (s *Store) MarkExecuted(_ context.Context, id string, at time.Time) (*domain.Proposal, error) {
	return s.transition(id, domain.StatusApproved, func(p *domain.Proposal) {
		p.Status = domain.StatusExecuted
		t := at
		p.ExecutedAt = &t
	})
}

func (s *Store) EnsureIdempotencyKey(_ context.Context, id, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return "", domain.ErrProposalNotFound
	}
	if p.IdempotencyKey == "" {
		p.IdempotencyKey = key
	}
	return p.IdempotencyKey, nil
}

// transition applies mutate under the lock only when the proposal is still in
// the expected status, mirroring the SQL compare-and-set.
func (s *Store) transition(id string, expected domain.ProposalStatus, mutate func(*domain.Proposal)) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, domain.ErrProposalNotFound
	}
	if p.Status != expected {
		return nil, domain.ErrStatusConflict
	}
	mutate(p)
	cp := *p
	return &cp, nil
}
