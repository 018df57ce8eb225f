package audit

import "context"

// EventStore is the append-only durable log. Append assigns Seq values,
// monotonically increasing across the whole log.
type EventStore interface {
	AppendBatch(ctx context.Context, events []Event) error
	Query(ctx context.Context, f Filter) ([]Event, error)
}
