package domain

// IntakeCategory labels what a blocked intent looked like. The open-ended
// part of the vocabulary lives in the rule set (policy data), these are the
// ones the runtime itself refers to.
type IntakeCategory string

const (
	IntakeSafe           IntakeCategory = "safe"
	IntakeIPInfringement IntakeCategory = "ip_infringement"
	IntakeSafety         IntakeCategory = "safety"
)

// IntakeClassification is the result of the risk screen applied to an
// agent-originated intent. It is not persisted as its own entity: the audit
// log carries it and the review queue is reconstructed from there.
type IntakeClassification struct {
	IntakeID   string         `json:"intake_id"` // deterministic: same content+actor+capability => same id
	Category   IntakeCategory `json:"category"`
	Blocked    bool           `json:"blocked"`
	ReasonCode string         `json:"reason_code,omitempty"`
	Summary    string         `json:"summary,omitempty"`
}

// OverrideOutcome is a staff decision on a blocked intake.
type OverrideOutcome string

const (
	OverrideGranted OverrideOutcome = "override_granted"
	OverrideDenied  OverrideOutcome = "override_denied"
)

// overrideVocabulary fixes which reason codes are valid for which decision.
var overrideVocabulary = map[OverrideOutcome][]string{
	OverrideGranted: {"false_positive", "policy_exception"},
	OverrideDenied:  {"confirmed_violation", "insufficient_rationale"},
}

// ValidOverride reports whether the (decision, reasonCode) pair is part of
// the fixed vocabulary.
func ValidOverride(decision OverrideOutcome, reasonCode string) bool {
	for _, rc := range overrideVocabulary[decision] {
		if rc == reasonCode {
			return true
		}
	}
	return false
}

// OverrideDecision records a staff verdict on one intakeId. A grant unblocks
// exactly that intakeId, nothing wider.
type OverrideDecision struct {
	IntakeID   string          `json:"intake_id"`
	Decision   OverrideOutcome `json:"decision"`
	ReasonCode string          `json:"reason_code"`
	Rationale  string          `json:"rationale"`
	DecidedBy  string          `json:"decided_by"`
}
