package pilot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/domain"
)

// NoteExecutor turns approved proposals into note-service calls and makes
// Execute linearizable per idempotency key: concurrent or retried calls with
// the same key serialize on the key's entry, and every caller after the first
// success gets the recorded result back with Replayed set.
type NoteExecutor struct {
	svc    NoteService
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	mu sync.Mutex

	executed bool
	result   domain.PilotResult

	reverted bool
}

func NewNoteExecutor(svc NoteService, logger *zap.Logger) *NoteExecutor {
	return &NoteExecutor{
		svc:     svc,
		logger:  logger.Named("pilot"),
		entries: make(map[string]*keyEntry),
	}
}

func (x *NoteExecutor) DryRun(ctx context.Context, input []byte) (string, error) {
	req, err := decodeNoteRequest(input)
	if err != nil {
		return "", err
	}
	return x.svc.Preview(ctx, req)
}

func (x *NoteExecutor) Execute(ctx context.Context, proposalID, idempotencyKey string, input []byte) (domain.PilotResult, error) {
	req, err := decodeNoteRequest(input)
	if err != nil {
		return domain.PilotResult{}, err
	}

	e := x.entry(idempotencyKey)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.executed {
		replay := e.result
		replay.Replayed = true
		x.logger.Info("execute replayed",
			zap.String("proposal_id", proposalID),
			zap.String("resource_pointer", replay.ResourcePointer),
		)
		return replay, nil
	}

	receipt, err := x.svc.Create(ctx, idempotencyKey, req)
	if err != nil {
		// Entry stays unexecuted so a later retry with the same key can
		// try again; the downstream key keeps it single-effect.
		return domain.PilotResult{}, err
	}

	e.executed = true
	e.result = domain.PilotResult{
		ResourcePointer: receipt.Pointer,
		OutputHash:      receiptHash(receipt),
	}
	x.logger.Info("execute committed",
		zap.String("proposal_id", proposalID),
		zap.String("resource_pointer", receipt.Pointer),
	)
	return e.result, nil
}

func (x *NoteExecutor) Rollback(ctx context.Context, proposalID, idempotencyKey, reason string) (domain.RollbackResult, error) {
	e := x.entry(idempotencyKey)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.reverted {
		return domain.RollbackResult{OK: true, Replayed: true}, nil
	}

	if err := x.svc.Revert(ctx, idempotencyKey, reason); err != nil {
		return domain.RollbackResult{}, err
	}
	e.reverted = true
	x.logger.Info("rollback committed", zap.String("proposal_id", proposalID))
	return domain.RollbackResult{OK: true}, nil
}

func (x *NoteExecutor) entry(key string) *keyEntry {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[key]
	if !ok {
		e = &keyEntry{}
		x.entries[key] = e
	}
	return e
}

func decodeNoteRequest(input []byte) (NoteRequest, error) {
	var req NoteRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return NoteRequest{}, fmt.Errorf("pilot: decode note request: %w", err)
	}
	if req.OwnerUID == "" || req.Body == "" {
		return NoteRequest{}, fmt.Errorf("pilot: note request requires owner_uid and body")
	}
	return req, nil
}

func receiptHash(r NoteReceipt) string {
	raw, _ := json.Marshal(r)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
