package domain

// ReasonCode classifies why a request was denied (or flagged).
type ReasonCode string

const (
	// Authorization
	ReasonDelegationMissing       ReasonCode = "DELEGATION_MISSING"
	ReasonDelegationExpired       ReasonCode = "DELEGATION_EXPIRED"
	ReasonDelegationRevoked       ReasonCode = "DELEGATION_REVOKED"
	ReasonDelegationScopeMismatch ReasonCode = "DELEGATION_SCOPE_MISMATCH"
	ReasonDelegationOwnerMismatch ReasonCode = "DELEGATION_OWNER_MISMATCH"
	ReasonTenantMismatch          ReasonCode = "TENANT_MISMATCH"
	ReasonAdminRequired           ReasonCode = "ADMIN_REQUIRED"
	ReasonActorTypeNotAllowed     ReasonCode = "ACTOR_TYPE_NOT_ALLOWED"

	// Policy
	ReasonBlockedByPolicy       ReasonCode = "BLOCKED_BY_POLICY"
	ReasonBlockedByIntakePolicy ReasonCode = "BLOCKED_BY_INTAKE_POLICY"

	// Validation
	ReasonCapabilityUnknown ReasonCode = "CAPABILITY_UNKNOWN"
	ReasonRationaleTooShort ReasonCode = "RATIONALE_TOO_SHORT"
	ReasonInvalidRequest    ReasonCode = "INVALID_REQUEST"

	// State machine
	ReasonInvalidState ReasonCode = "INVALID_STATE"

	// Throughput
	ReasonRateLimited ReasonCode = "RATE_LIMITED"

	// Execution
	ReasonExecutionFailed ReasonCode = "EXECUTION_FAILED"
)

// Decision is the uniform result of every authorization stage and every
// governed operation. A denial is a value, not an error: errors are reserved
// for infrastructure failure (store unreachable etc.).
type Decision struct {
	Allowed    bool       `json:"allowed"`
	ReasonCode ReasonCode `json:"reason_code,omitempty"`
	Detail     string     `json:"detail,omitempty"`

	// RetryAfterSeconds is set only for RATE_LIMITED denials.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`

	// IntakeID is set for BLOCKED_BY_INTAKE_POLICY so the caller can locate
	// the review-queue entry.
	IntakeID string `json:"intake_id,omitempty"`
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(code ReasonCode, detail string) Decision {
	return Decision{Allowed: false, ReasonCode: code, Detail: detail}
}
