package intake

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
)

// Overrides applies staff decisions to blocked intakes. The decision event is
// written synchronously: a granted override must be durable before the next
// retry of the same intent can observe it.
type Overrides struct {
	sink            audit.Sink
	logger          *zap.Logger
	minRationaleLen int
}

func NewOverrides(sink audit.Sink, logger *zap.Logger, minRationaleLen int) *Overrides {
	return &Overrides{sink: sink, logger: logger.Named("intake-override"), minRationaleLen: minRationaleLen}
}

// Apply validates and records one override decision. The grant is keyed by
// intakeId equality only; it never widens to other intents from the actor.
func (o *Overrides) Apply(ctx context.Context, principal domain.Principal, d domain.OverrideDecision) (domain.Decision, error) {
	if d.IntakeID == "" {
		return domain.Deny(domain.ReasonInvalidRequest, "intake_id is required"), nil
	}
	if !domain.ValidOverride(d.Decision, d.ReasonCode) {
		return domain.Deny(domain.ReasonInvalidRequest, "decision/reason_code pair is not in the override vocabulary"), nil
	}
	if len(d.Rationale) < o.minRationaleLen {
		return domain.Deny(domain.ReasonRationaleTooShort, "override rationale below minimum length"), nil
	}

	err := o.sink.LogSync(ctx, audit.Event{
		ActorType: domain.ActorStaff,
		ActorID:   principal.ID,
		Action:    audit.ActionIntakeOverride,
		Target:    d.IntakeID,
		Rationale: d.Rationale,
		Metadata: map[string]string{
			"decision":    string(d.Decision),
			"reason_code": d.ReasonCode,
		},
	})
	if err != nil {
		return domain.Decision{}, err
	}

	o.logger.Info("intake override recorded",
		zap.String("intake_id", d.IntakeID),
		zap.String("decision", string(d.Decision)),
		zap.String("decided_by", principal.ID),
	)
	return domain.Allow(), nil
}
