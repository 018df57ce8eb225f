package domain

import "time"

// KillSwitch is the global execution override. When enabled, creation and
// execution of proposals is blocked for every capability unless an active
// exemption matches.
type KillSwitch struct {
	Enabled   bool      `json:"enabled"`
	Rationale string    `json:"rationale,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at,omitempty"`
}

// Exemption is a scoped, justified bypass of the kill switch. OwnerUID is
// optional: empty means the exemption covers every owner of the capability.
type Exemption struct {
	ID            string     `json:"id"`
	CapabilityID  string     `json:"capability_id"`
	OwnerUID      string     `json:"owner_uid,omitempty"`
	Justification string     `json:"justification"`
	ApprovedBy    string     `json:"approved_by"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

// ActiveFor reports whether the exemption currently covers the given
// capability/owner pair.
func (e *Exemption) ActiveFor(capabilityID, ownerUID string, now time.Time) bool {
	if e.CapabilityID != capabilityID {
		return false
	}
	if e.OwnerUID != "" && e.OwnerUID != ownerUID {
		return false
	}
	if e.RevokedAt != nil {
		return false
	}
	return now.Before(e.ExpiresAt)
}

// PolicyState is the process-wide policy aggregate: the kill switch plus all
// exemptions, versioned so mutations can use the same check-and-set
// discipline as proposal transitions.
type PolicyState struct {
	Version    int64       `json:"version"`
	KillSwitch KillSwitch  `json:"kill_switch"`
	Exemptions []Exemption `json:"exemptions"`
}

// ExecutionBlocked evaluates the aggregate for one capability/owner pair.
func (s *PolicyState) ExecutionBlocked(capabilityID, ownerUID string, now time.Time) bool {
	if !s.KillSwitch.Enabled {
		return false
	}
	for i := range s.Exemptions {
		if s.Exemptions[i].ActiveFor(capabilityID, ownerUID, now) {
			return false
		}
	}
	return true
}
