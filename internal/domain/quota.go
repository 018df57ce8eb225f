package domain

import "time"

// QuotaBucket is the observable state of one fixed-window counter. Key, Count
// and RemainingSeconds are filled by every limiter backend; the other fields
// only where the backend tracks them (see quota.Limiter).
type QuotaBucket struct {
	Key              string    `json:"key"`
	Count            int64     `json:"count"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Limit            int64     `json:"limit,omitempty"`
	WindowStart      time.Time `json:"window_start"`
	WindowSeconds    int64     `json:"window_seconds,omitempty"`
}

// QuotaKey derives the bucket key for an actor exercising one action class
// of a capability. Buckets are independently addressable so one noisy actor
// cannot starve others.
func QuotaKey(actorID, capabilityID, action string) string {
	return actorID + ":" + capabilityID + ":" + action
}
