package quota

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
)

// Manager is the administrative surface over a Limiter. Resets require a
// reason and are audited; there is no silent reset path.
type Manager struct {
	limiter         Limiter
	sink            audit.Sink
	logger          *zap.Logger
	minRationaleLen int
}

func NewManager(limiter Limiter, sink audit.Sink, logger *zap.Logger, minRationaleLen int) *Manager {
	return &Manager{
		limiter:         limiter,
		sink:            sink,
		logger:          logger.Named("quota"),
		minRationaleLen: minRationaleLen,
	}
}

func (m *Manager) List(ctx context.Context) ([]domain.QuotaBucket, error) {
	return m.limiter.List(ctx, time.Now())
}

// Reset clears one bucket on explicit admin action.
func (m *Manager) Reset(ctx context.Context, principal domain.Principal, bucketKey, reason string) (domain.Decision, error) {
	if bucketKey == "" {
		return domain.Deny(domain.ReasonInvalidRequest, "bucket key is required"), nil
	}
	if len(reason) < m.minRationaleLen {
		return domain.Deny(domain.ReasonRationaleTooShort, "reset reason below minimum length"), nil
	}
	if !principal.IsAdmin() {
		return domain.Deny(domain.ReasonAdminRequired, "quota reset requires the admin role"), nil
	}

	if err := m.limiter.Reset(ctx, bucketKey); err != nil {
		return domain.Decision{}, err
	}

	if err := m.sink.LogSync(ctx, audit.Event{
		ActorType: domain.ActorStaff,
		ActorID:   principal.ID,
		Action:    audit.ActionQuotaReset,
		Target:    bucketKey,
		Rationale: reason,
	}); err != nil {
		return domain.Decision{}, err
	}

	m.logger.Info("quota bucket reset",
		zap.String("bucket", bucketKey),
		zap.String("by", principal.ID),
	)
	return domain.Allow(), nil
}
