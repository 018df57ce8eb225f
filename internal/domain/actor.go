package domain

// ActorType distinguishes who is asking: a human staff member, an autonomous
// agent acting under delegation, or an internal background process.
type ActorType string

const (
	ActorStaff  ActorType = "staff"
	ActorAgent  ActorType = "agent"
	ActorSystem ActorType = "system"
)

func (t ActorType) Valid() bool {
	switch t {
	case ActorStaff, ActorAgent, ActorSystem:
		return true
	}
	return false
}

// Actor is the authorized effective actor context produced by the resolver.
// For agent actors EffectiveScopes comes from the delegation; staff and
// system actors carry no scope restriction beyond the upstream role claim.
type Actor struct {
	Type            ActorType `json:"type"`
	ID              string    `json:"id"`
	OwnerUID        string    `json:"owner_uid"`
	TenantID        string    `json:"tenant_id"`
	EffectiveScopes []string  `json:"effective_scopes,omitempty"`
}

// Role is the upstream identity-provider assertion carried on the principal.
type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// Principal is the authenticated caller as asserted by the identity provider.
// Issuing and verifying credentials is outside this runtime; we only consume
// the claims.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }
