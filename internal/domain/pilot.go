package domain

// PilotResult is the outcome of one pilot write execution. Replayed means a
// previous call with the same idempotency key already produced the effect and
// this call returned its recorded result instead of repeating it.
type PilotResult struct {
	ResourcePointer string `json:"resource_pointer"`
	Replayed        bool   `json:"replayed"`
	OutputHash      string `json:"output_hash,omitempty"`
}

// RollbackResult mirrors PilotResult for the compensating action.
type RollbackResult struct {
	OK       bool `json:"ok"`
	Replayed bool `json:"replayed"`
}
