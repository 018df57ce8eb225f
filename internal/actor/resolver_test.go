package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
)

type fakeDelegations struct {
	d *domain.Delegation
}

func (f fakeDelegations) FindDelegation(context.Context, string, string) (*domain.Delegation, error) {
	return f.d, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Log(e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) LogSync(_ context.Context, e audit.Event) error {
	s.Log(e)
	return nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func liveDelegation() *domain.Delegation {
	return &domain.Delegation{
		ID:        "d1",
		AgentUID:  "agent-1",
		OwnerUID:  "owner-1",
		Scopes:    []string{domain.ExecuteScope("record.close")},
		IssuedAt:  testNow.Add(-time.Hour),
		ExpiresAt: testNow.Add(time.Hour),
	}
}

func agentRequest() Request {
	return Request{
		ActorType:    domain.ActorAgent,
		ActorID:      "agent-1",
		OwnerUID:     "owner-1",
		TenantID:     "tenant-1",
		CapabilityID: "record.close",
		PrincipalID:  "svc-gateway",
	}
}

func newTestResolver(d *domain.Delegation, sink audit.Sink) *Resolver {
	return NewResolver(fakeDelegations{d: d}, sink, zap.NewNop()).
		WithClock(func() time.Time { return testNow })
}

func TestResolveStaffPassesThrough(t *testing.T) {
	sink := &captureSink{}
	r := newTestResolver(nil, sink)

	a, d, err := r.Resolve(context.Background(), Request{
		ActorType: domain.ActorStaff, ActorID: "u1", OwnerUID: "owner-1", TenantID: "tenant-1",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ActorStaff, a.Type)
	assert.Empty(t, sink.events)
}

func TestResolveAgentWithLiveDelegation(t *testing.T) {
	r := newTestResolver(liveDelegation(), &captureSink{})

	a, d, err := r.Resolve(context.Background(), agentRequest())
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, []string{"capability:record.close:execute"}, a.EffectiveScopes)
}

func TestResolveAgentDenials(t *testing.T) {
	expired := liveDelegation()
	expired.ExpiresAt = testNow.Add(-time.Minute)

	revoked := liveDelegation()
	rev := testNow.Add(-time.Minute)
	revoked.RevokedAt = &rev

	wrongOwner := liveDelegation()
	wrongOwner.OwnerUID = "owner-2"

	wrongScope := liveDelegation()
	wrongScope.Scopes = []string{domain.ExecuteScope("device.status.read")}

	cases := []struct {
		name string
		d    *domain.Delegation
		want domain.ReasonCode
	}{
		{"missing", nil, domain.ReasonDelegationMissing},
		{"expired", expired, domain.ReasonDelegationExpired},
		{"revoked", revoked, domain.ReasonDelegationRevoked},
		{"owner mismatch", wrongOwner, domain.ReasonDelegationOwnerMismatch},
		{"scope mismatch", wrongScope, domain.ReasonDelegationScopeMismatch},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sink := &captureSink{}
			r := newTestResolver(c.d, sink)

			_, d, err := r.Resolve(context.Background(), agentRequest())
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, c.want, d.ReasonCode)

			// Every delegation denial leaves an audit event with a
			// redacted trace: ids only, no payload.
			require.Len(t, sink.events, 1)
			e := sink.events[0]
			assert.Equal(t, audit.ActionDelegationDenied, e.Action)
			assert.Equal(t, string(c.want), e.Metadata["reason_code"])
			assert.Empty(t, e.Rationale)
		})
	}
}

func TestResolveRevokedWinsOverExpired(t *testing.T) {
	// A delegation that is both revoked and expired reports revocation.
	d := liveDelegation()
	d.ExpiresAt = testNow.Add(-time.Minute)
	rev := testNow.Add(-2 * time.Minute)
	d.RevokedAt = &rev

	r := newTestResolver(d, &captureSink{})
	_, decision, err := r.Resolve(context.Background(), agentRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDelegationRevoked, decision.ReasonCode)
}
