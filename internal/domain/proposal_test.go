package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProposalTransitions(t *testing.T) {
	cases := []struct {
		from, to ProposalStatus
		ok       bool
	}{
		{StatusPendingApproval, StatusApproved, true},
		{StatusPendingApproval, StatusRejected, true},
		{StatusPendingApproval, StatusExecuted, false},
		{StatusApproved, StatusExecuted, true},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusPendingApproval, true},
		{StatusRejected, StatusExecuted, false},
		{StatusExecuted, StatusPendingApproval, false},
		{StatusExecuted, StatusApproved, false},
	}

	for _, c := range cases {
		p := &Proposal{Status: c.from}
		err := p.CanTransitionTo(c.to)
		if c.ok {
			assert.NoError(t, err, "%s -> %s", c.from, c.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", c.from, c.to)
		}
	}
}

func TestOverrideVocabulary(t *testing.T) {
	assert.True(t, ValidOverride(OverrideGranted, "false_positive"))
	assert.True(t, ValidOverride(OverrideGranted, "policy_exception"))
	assert.True(t, ValidOverride(OverrideDenied, "confirmed_violation"))
	assert.True(t, ValidOverride(OverrideDenied, "insufficient_rationale"))

	// Crossed pairs are invalid.
	assert.False(t, ValidOverride(OverrideGranted, "confirmed_violation"))
	assert.False(t, ValidOverride(OverrideDenied, "false_positive"))
	assert.False(t, ValidOverride(OverrideGranted, ""))
}

func TestExecutionBlocked(t *testing.T) {
	now := time.Now()
	st := PolicyState{
		KillSwitch: KillSwitch{Enabled: true},
		Exemptions: []Exemption{
			{ID: "e1", CapabilityID: "record.close", OwnerUID: "owner-1", ExpiresAt: now.Add(time.Hour)},
			{ID: "e2", CapabilityID: "pilot_note.attach", ExpiresAt: now.Add(time.Hour)},
		},
	}

	// Owner-scoped exemption covers only that owner.
	assert.False(t, st.ExecutionBlocked("record.close", "owner-1", now))
	assert.True(t, st.ExecutionBlocked("record.close", "owner-2", now))

	// Unscoped exemption covers every owner of the capability.
	assert.False(t, st.ExecutionBlocked("pilot_note.attach", "anyone", now))

	// Revoked and expired exemptions stop counting.
	revoked := now
	st.Exemptions[1].RevokedAt = &revoked
	assert.True(t, st.ExecutionBlocked("pilot_note.attach", "anyone", now))
	assert.True(t, st.ExecutionBlocked("record.close", "owner-1", now.Add(2*time.Hour)))

	st.KillSwitch.Enabled = false
	assert.False(t, st.ExecutionBlocked("record.close", "owner-2", now))
}

func TestDelegationChecks(t *testing.T) {
	now := time.Now()
	d := &Delegation{
		AgentUID:  "agent-1",
		OwnerUID:  "owner-1",
		Scopes:    []string{ExecuteScope("record.close")},
		ExpiresAt: now.Add(time.Hour),
	}

	assert.True(t, d.HasScope("capability:record.close:execute"))
	assert.False(t, d.HasScope(ExecuteScope("pilot_note.attach")))
	assert.False(t, d.ExpiredAt(now))
	assert.True(t, d.ExpiredAt(now.Add(time.Hour)))
	assert.False(t, d.Revoked())

	rev := now
	d.RevokedAt = &rev
	assert.True(t, d.Revoked())
}
