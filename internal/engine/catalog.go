package engine

import "github.com/xela07ax/capgov/internal/domain"

// DefaultCapabilities is the static catalog loaded at process start. Adding a
// capability is a deploy, not an API call: the set is immutable at runtime.
func DefaultCapabilities() []domain.Capability {
	return []domain.Capability{
		{
			ID:                "pilot_note.attach",
			Name:              "Attach operational note",
			RiskTier:          domain.RiskModerate,
			AllowedActorTypes: []domain.ActorType{domain.ActorStaff, domain.ActorAgent},
			SupportsDryRun:    true,
			SupportsRollback:  true,
			PilotWrite:        true,
		},
		{
			ID:                "record.close",
			Name:              "Close record",
			RiskTier:          domain.RiskHigh,
			AllowedActorTypes: []domain.ActorType{domain.ActorStaff, domain.ActorAgent},
		},
		{
			ID:                "device.status.read",
			Name:              "Read device status",
			RiskTier:          domain.RiskLow,
			AllowedActorTypes: []domain.ActorType{domain.ActorStaff, domain.ActorAgent, domain.ActorSystem},
		},
	}
}
