package domain

// RiskTier is a coarse static ranking of how dangerous a capability is.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskModerate RiskTier = "moderate"
	RiskHigh     RiskTier = "high"
)

// Capability is the static definition of a governed operation. The set is
// loaded once per process and never mutated at runtime.
type Capability struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	RiskTier RiskTier `json:"risk_tier"`

	// AllowedActorTypes lists which actor types may even ask.
	AllowedActorTypes []ActorType `json:"allowed_actor_types"`

	SupportsDryRun   bool `json:"supports_dry_run"`
	SupportsRollback bool `json:"supports_rollback"`

	// PilotWrite marks the capability as bound to the pilot write executor:
	// execution produces a real external side effect.
	PilotWrite bool `json:"pilot_write"`
}

func (c Capability) AllowsActorType(t ActorType) bool {
	for _, at := range c.AllowedActorTypes {
		if at == t {
			return true
		}
	}
	return false
}

// CapabilitySet is an immutable lookup over the loaded capability definitions.
type CapabilitySet struct {
	byID map[string]Capability
}

func NewCapabilitySet(caps []Capability) *CapabilitySet {
	m := make(map[string]Capability, len(caps))
	for _, c := range caps {
		m[c.ID] = c
	}
	return &CapabilitySet{byID: m}
}

func (s *CapabilitySet) Get(id string) (Capability, bool) {
	c, ok := s.byID[id]
	return c, ok
}

func (s *CapabilitySet) All() []Capability {
	out := make([]Capability, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	return out
}
