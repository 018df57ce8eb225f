package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
)

// Input is everything the screen looks at for one agent-originated intent.
type Input struct {
	ActorID      string
	OwnerUID     string
	CapabilityID string
	Rationale    string
	Preview      string
	Payload      []byte
}

// Classifier screens agent-originated intents before the lifecycle engine
// sees them. Staff and system actors bypass it entirely (the engine decides
// that, not the classifier).
type Classifier struct {
	rules  Ruleset
	store  audit.EventStore
	sink   audit.Sink
	logger *zap.Logger
}

func NewClassifier(rules Ruleset, store audit.EventStore, sink audit.Sink, logger *zap.Logger) *Classifier {
	return &Classifier{
		rules:  rules,
		store:  store,
		sink:   sink,
		logger: logger.Named("intake"),
	}
}

// Screen classifies the intent. A blocked classification denies the caller
// with BLOCKED_BY_INTAKE_POLICY and the intakeId, unless a prior granted
// override exists for exactly that intakeId.
func (c *Classifier) Screen(ctx context.Context, in Input) (domain.IntakeClassification, domain.Decision, error) {
	cls := c.classify(in)
	if !cls.Blocked {
		return cls, domain.Allow(), nil
	}

	// The classified event goes in regardless of the override outcome:
	// the queue projection needs to see every blocked intent.
	c.sink.Log(audit.Event{
		ActorType: domain.ActorAgent,
		ActorID:   in.ActorID,
		Action:    audit.ActionIntakeClassified,
		Target:    cls.IntakeID,
		Metadata: map[string]string{
			"category":      string(cls.Category),
			"reason_code":   cls.ReasonCode,
			"summary":       cls.Summary,
			"capability_id": in.CapabilityID,
			"owner_uid":     in.OwnerUID,
		},
	})

	overridden, err := c.hasGrantedOverride(ctx, cls.IntakeID)
	if err != nil {
		return cls, domain.Decision{}, err
	}
	if overridden {
		c.logger.Info("blocked intent admitted via override",
			zap.String("intake_id", cls.IntakeID),
			zap.String("category", string(cls.Category)),
		)
		return cls, domain.Allow(), nil
	}

	c.sink.Log(audit.Event{
		ActorType: domain.ActorAgent,
		ActorID:   in.ActorID,
		Action:    audit.ActionIntakeRouted,
		Target:    cls.IntakeID,
		Metadata: map[string]string{
			"category":      string(cls.Category),
			"reason_code":   cls.ReasonCode,
			"capability_id": in.CapabilityID,
		},
	})

	d := domain.Deny(domain.ReasonBlockedByIntakePolicy, "blocked pending human review")
	d.IntakeID = cls.IntakeID
	return cls, d, nil
}

func (c *Classifier) classify(in Input) domain.IntakeClassification {
	normalized := normalize(in.Rationale + "\n" + in.Preview + "\n" + string(in.Payload))
	id := intakeID(in.ActorID, in.OwnerUID, in.CapabilityID, normalized)

	if rule, ok := c.rules.Match(normalized); ok {
		return domain.IntakeClassification{
			IntakeID:   id,
			Category:   rule.Category,
			Blocked:    true,
			ReasonCode: rule.ReasonCode,
			Summary:    rule.Summary,
		}
	}
	return domain.IntakeClassification{
		IntakeID: id,
		Category: domain.IntakeSafe,
		Blocked:  false,
	}
}

// hasGrantedOverride replays override events for the intakeId; the latest
// decision wins. The lookup is keyed on the target so a grant holds no matter
// how many later decisions land on other intake ids.
func (c *Classifier) hasGrantedOverride(ctx context.Context, intakeID string) (bool, error) {
	events, err := c.store.Query(ctx, audit.Filter{
		ActionPrefix: audit.ActionIntakeOverride,
		Target:       intakeID,
	})
	if err != nil {
		return false, fmt.Errorf("intake override lookup: %w", err)
	}
	granted := false
	for _, e := range events { // ascending seq
		granted = e.Metadata["decision"] == string(domain.OverrideGranted)
	}
	return granted, nil
}

// intakeID is deterministic: identical retries of the same content by the
// same actor against the same capability collapse to one review item.
func intakeID(actorID, ownerUID, capabilityID, normalized string) string {
	sum := sha256.Sum256([]byte(actorID + "|" + ownerUID + "|" + capabilityID + "|" + normalized))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
