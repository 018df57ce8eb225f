package pilot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockNoteService is an in-process stand-in for the note service, used by the
// memory storage driver and by tests. It honors the idempotency contract.
type MockNoteService struct {
	mu       sync.Mutex
	receipts map[string]NoteReceipt
	reverted map[string]bool
}

func NewMockNoteService() *MockNoteService {
	return &MockNoteService{
		receipts: make(map[string]NoteReceipt),
		reverted: make(map[string]bool),
	}
}

func (m *MockNoteService) Preview(_ context.Context, req NoteRequest) (string, error) {
	return fmt.Sprintf("would attach a %d-char note to owner %s", len(req.Body), req.OwnerUID), nil
}

func (m *MockNoteService) Create(_ context.Context, idempotencyKey string, req NoteRequest) (NoteReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.receipts[idempotencyKey]; ok {
		return r, nil
	}

	sum := sha256.Sum256([]byte(req.Body))
	r := NoteReceipt{
		Pointer:  "note:" + uuid.NewString(),
		BodyHash: hex.EncodeToString(sum[:]),
	}
	m.receipts[idempotencyKey] = r
	return r, nil
}

func (m *MockNoteService) Revert(_ context.Context, idempotencyKey, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.receipts[idempotencyKey]; !ok {
		return fmt.Errorf("no note recorded for key %s", idempotencyKey)
	}
	m.reverted[idempotencyKey] = true
	return nil
}

// Reverted reports whether the write under the key has been compensated.
func (m *MockNoteService) Reverted(idempotencyKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reverted[idempotencyKey]
}
