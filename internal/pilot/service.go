package pilot

import "context"

// NoteRequest is the payload of the single write capability currently piloted:
// attaching an internal note to an owner's record.
type NoteRequest struct {
	OwnerUID string `json:"owner_uid"`
	TenantID string `json:"tenant_id"`
	Body     string `json:"body"`
}

// NoteReceipt is what the note service returns for a committed write.
type NoteReceipt struct {
	// Pointer identifies the created resource, e.g. "note:7f3a...".
	Pointer  string `json:"pointer"`
	BodyHash string `json:"body_hash,omitempty"`
}

// NoteService is the downstream system of record. Create is idempotent on the
// key: the service returns the original receipt for a repeated key instead of
// writing twice. Revert compensates the write made under the key.
type NoteService interface {
	Preview(ctx context.Context, req NoteRequest) (string, error)
	Create(ctx context.Context, idempotencyKey string, req NoteRequest) (NoteReceipt, error)
	Revert(ctx context.Context, idempotencyKey, reason string) error
}
