package memory

/*
Package memory is the storage backend for tests and single-node pilots
(storage.driver = "memory"). It implements the same store interfaces as the
postgres package with the same semantics: compare-and-set transitions, an
append-only audit log with store-assigned monotonic seq, and a versioned
policy aggregate.
*/

import (
	"sync"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
)

type Store struct {
	mu sync.Mutex

	proposals map[string]*domain.Proposal

	events  []audit.Event
	nextSeq int64

	delegations []domain.Delegation

	policy *domain.PolicyState
}

func New() *Store {
	return &Store{
		proposals: make(map[string]*domain.Proposal),
		nextSeq:   1,
	}
}

// AddDelegation seeds a grant. Grants are issued out-of-band in production;
// in memory they are loaded at startup or by tests.
func (s *Store) AddDelegation(d domain.Delegation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegations = append(s.delegations, d)
}
