package domain

import (
	"fmt"
	"time"
)

// Delegation is a scoped, time-bounded grant letting one agent act on one
// owner's behalf. Issued out-of-band; read-only to this runtime.
type Delegation struct {
	ID        string     `json:"id"`
	AgentUID  string     `json:"agent_uid"`
	OwnerUID  string     `json:"owner_uid"`
	Scopes    []string   `json:"scopes"` // "capability:<id>:execute"
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// ExecuteScope builds the scope string required to execute a capability.
func ExecuteScope(capabilityID string) string {
	return fmt.Sprintf("capability:%s:execute", capabilityID)
}

func (d *Delegation) HasScope(scope string) bool {
	for _, s := range d.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (d *Delegation) ExpiredAt(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

func (d *Delegation) Revoked() bool {
	return d.RevokedAt != nil
}
