package audit

import (
	"strings"
	"time"

	"github.com/xela07ax/capgov/internal/domain"
)

// Audit action names. Every privileged mutation in the runtime appends at
// least one event under one of these actions.
const (
	ActionProposalCreated  = "proposal.created"
	ActionProposalApproved = "proposal.approved"
	ActionProposalRejected = "proposal.rejected"
	ActionProposalReopened = "proposal.reopened"
	ActionProposalExecuted = "proposal.executed"
	ActionProposalDenied   = "proposal.denied"

	ActionDelegationDenied = "capability.delegation.denied"
	ActionCrossTenant      = "studio_ops.cross_tenant_denied"

	ActionIntakeClassified = "intake.classified"
	ActionIntakeRouted     = "intake.routed_to_review"
	ActionIntakeOverride   = "intake.override_decided"

	ActionRateLimitTriggered = "rate_limit_triggered"
	ActionQuotaReset         = "quota.reset"

	ActionKillSwitchChanged = "policy.kill_switch_changed"
	ActionExemptionCreated  = "policy.exemption_created"
	ActionExemptionRevoked  = "policy.exemption_revoked"

	ActionNoteExecuted        = "pilot_note.executed"
	ActionNoteExecutionFailed = "pilot_note.execution_failed"
	ActionNoteRolledBack      = "pilot_note.rolled_back"
	ActionNoteRollbackFailed  = "pilot_note.rollback_failed"
)

// Event is one append-only audit row. Events are never mutated or deleted;
// Seq is assigned by the store at append and is strictly monotonic.
type Event struct {
	ID      string `json:"id"`
	Seq     int64  `json:"seq"`
	TraceID string `json:"trace_id,omitempty"`

	ActorType domain.ActorType `json:"actor_type"`
	ActorID   string           `json:"actor_id"`

	Action    string `json:"action"`
	Rationale string `json:"rationale,omitempty"`

	// Target is what the action touched: a proposal id, bucket key,
	// intake id, capability id.
	Target        string                `json:"target,omitempty"`
	ApprovalState domain.ProposalStatus `json:"approval_state,omitempty"`

	InputHash  string `json:"input_hash,omitempty"`
	OutputHash string `json:"output_hash,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows audit queries. Zero value means "most recent, any action".
type Filter struct {
	ActionPrefix  string
	ActorID       string
	Target        string
	ApprovalState domain.ProposalStatus

	// MinSeq switches the query from a most-recent window to a forward page:
	// events with Seq >= MinSeq, oldest first, up to Limit. Seq values start
	// at 1, so MinSeq 1 pages from the beginning of the log.
	MinSeq int64

	Limit int
}

// Matches applies the filter to a single event (stores that cannot push the
// predicate down use it while scanning).
func (f Filter) Matches(e Event) bool {
	if f.ActionPrefix != "" && !strings.HasPrefix(e.Action, f.ActionPrefix) {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.ApprovalState != "" && e.ApprovalState != f.ApprovalState {
		return false
	}
	if f.MinSeq > 0 && e.Seq < f.MinSeq {
		return false
	}
	return true
}
