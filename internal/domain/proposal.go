package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// ProposalStatus values of the approval state machine.
type ProposalStatus string

const (
	StatusPendingApproval ProposalStatus = "pending_approval"
	StatusApproved        ProposalStatus = "approved"
	StatusRejected        ProposalStatus = "rejected"
	StatusExecuted        ProposalStatus = "executed" // terminal
)

var (
	ErrInvalidTransition = errors.New("invalid proposal status transition")
	ErrProposalNotFound  = errors.New("proposal not found")

	// ErrStatusConflict is returned by stores when a compare-and-set update
	// finds the proposal in a different status than expected. It means a
	// concurrent caller won the transition, not that anything is broken.
	ErrStatusConflict = errors.New("proposal status changed concurrently")
)

// Proposal is a single request to exercise a capability. One proposal maps to
// at most one real-world effect.
type Proposal struct {
	ID           string    `json:"id"`
	CapabilityID string    `json:"capability_id"`
	ActorType    ActorType `json:"actor_type"`
	ActorID      string    `json:"actor_id"`
	OwnerUID     string    `json:"owner_uid"`
	TenantID     string    `json:"tenant_id"`

	Rationale      string `json:"rationale"`
	PreviewSummary string `json:"preview_summary,omitempty"`

	RequestInput     json.RawMessage `json:"request_input,omitempty"`
	RequestInputHash string          `json:"request_input_hash"`
	ExpectedEffects  string          `json:"expected_effects,omitempty"`

	Status      ProposalStatus `json:"status"`
	RequestedBy string         `json:"requested_by"`
	ApprovedBy  string         `json:"approved_by,omitempty"`
	RejectedBy  string         `json:"rejected_by,omitempty"`

	// IdempotencyKey is assigned at first execute and pins every retry of
	// this proposal to the same external effect.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// CanTransitionTo checks state-machine legality only. Role requirements
// (reopen is admin-only) and policy checks live in the engine.
func (p *Proposal) CanTransitionTo(next ProposalStatus) error {
	switch {
	case p.Status == StatusPendingApproval && (next == StatusApproved || next == StatusRejected):
		return nil
	case p.Status == StatusApproved && next == StatusExecuted:
		return nil
	case p.Status == StatusRejected && next == StatusPendingApproval:
		return nil
	}
	return ErrInvalidTransition
}
