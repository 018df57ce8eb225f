package audit

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrHashMismatch      = errors.New("export payload hash mismatch")
	ErrSignatureInvalid  = errors.New("export signature invalid")
	ErrSignatureExpected = errors.New("export bundle is unsigned")
)

// Manifest describes the exported row set well enough to verify it offline.
type Manifest struct {
	RowCount    int    `json:"row_count"`
	PayloadHash string `json:"payload_hash"` // hex sha256 over the serialized rows
}

// Bundle is an exported, verifiable snapshot of audit events. Signature is
// empty when no signing key is configured.
type Bundle struct {
	Events    []Event  `json:"events"`
	Manifest  Manifest `json:"manifest"`
	Signature string   `json:"signature,omitempty"` // hex ed25519 over PayloadHash
	PublicKey string   `json:"public_key,omitempty"`
}

// Exporter builds bundles from the event store. A nil signing key means
// unsigned bundles.
type Exporter struct {
	store EventStore
	key   ed25519.PrivateKey
}

func NewExporter(store EventStore, key ed25519.PrivateKey) *Exporter {
	return &Exporter{store: store, key: key}
}

func (x *Exporter) Export(ctx context.Context, f Filter) (*Bundle, error) {
	events, err := x.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit export: %w", err)
	}

	hash, err := payloadHash(events)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Events:   events,
		Manifest: Manifest{RowCount: len(events), PayloadHash: hash},
	}

	if x.key != nil {
		b.Signature = hex.EncodeToString(ed25519.Sign(x.key, []byte(hash)))
		b.PublicKey = hex.EncodeToString(x.key.Public().(ed25519.PublicKey))
	}
	return b, nil
}

// Verify recomputes the payload hash over the bundle's rows and, when the
// bundle carries a signature, checks it against the embedded public key.
// Tampering with any row breaks the hash; tampering with the hash breaks the
// signature.
func Verify(b *Bundle) error {
	hash, err := payloadHash(b.Events)
	if err != nil {
		return err
	}
	if hash != b.Manifest.PayloadHash || len(b.Events) != b.Manifest.RowCount {
		return ErrHashMismatch
	}

	if b.Signature == "" {
		return nil
	}
	pub, err := hex.DecodeString(b.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ErrSignatureInvalid
	}
	sig, err := hex.DecodeString(b.Signature)
	if err != nil {
		return ErrSignatureInvalid
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(b.Manifest.PayloadHash), sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// payloadHash serializes the row set deterministically (JSON array, fields in
// struct order) and hashes it.
func payloadHash(events []Event) (string, error) {
	raw, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("audit export: serialize rows: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
