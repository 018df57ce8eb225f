package engine

import (
	"sync"

	"github.com/xela07ax/capgov/internal/domain"
)

// guardedState is the in-memory copy of the policy aggregate. Reads sit on
// the hot path of every create/execute, so they take an RLock and copy.
type guardedState struct {
	mu sync.RWMutex
	st domain.PolicyState
}

func newGuardedState() *guardedState {
	return &guardedState{}
}

func (g *guardedState) snapshot() domain.PolicyState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cp := g.st
	cp.Exemptions = append([]domain.Exemption(nil), g.st.Exemptions...)
	return cp
}

func (g *guardedState) replace(st domain.PolicyState) {
	g.mu.Lock()
	g.st = st
	g.mu.Unlock()
}
