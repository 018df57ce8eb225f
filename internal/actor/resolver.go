package actor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
)

// DelegationSource is where the resolver reads delegation records from.
// Delegations are issued out-of-band; this runtime never writes them.
// FindDelegation returns (nil, nil) when no record exists for the pair.
type DelegationSource interface {
	FindDelegation(ctx context.Context, agentUID, ownerUID string) (*domain.Delegation, error)
}

// Request is the declared actor context of an incoming call, before
// authorization.
type Request struct {
	ActorType    domain.ActorType
	ActorID      string
	OwnerUID     string
	TenantID     string
	CapabilityID string
	PrincipalID  string
}

// Resolver turns a declared actor into an authorized one, or a denial with a
// specific reason code. Read-only except for the denial audit write.
type Resolver struct {
	delegations DelegationSource
	sink        audit.Sink
	logger      *zap.Logger
	now         func() time.Time
}

func NewResolver(delegations DelegationSource, sink audit.Sink, logger *zap.Logger) *Resolver {
	return &Resolver{
		delegations: delegations,
		sink:        sink,
		logger:      logger.Named("resolver"),
		now:         time.Now,
	}
}

// WithClock substitutes the time source (tests).
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve authorizes the effective actor. Staff and system actors pass once
// the identity provider asserted the required claim upstream; agent actors
// need a live, correctly scoped delegation.
func (r *Resolver) Resolve(ctx context.Context, req Request) (domain.Actor, domain.Decision, error) {
	if !req.ActorType.Valid() {
		return domain.Actor{}, domain.Deny(domain.ReasonInvalidRequest, "unknown actor type"), nil
	}

	if req.ActorType == domain.ActorStaff || req.ActorType == domain.ActorSystem {
		return domain.Actor{
			Type:     req.ActorType,
			ID:       req.ActorID,
			OwnerUID: req.OwnerUID,
			TenantID: req.TenantID,
		}, domain.Allow(), nil
	}

	// Agent path: every violation gets its own reason code so the caller
	// (and the audit trail) can tell a revoked grant from a missing one.
	d, err := r.delegations.FindDelegation(ctx, req.ActorID, req.OwnerUID)
	if err != nil {
		return domain.Actor{}, domain.Decision{}, err
	}

	if decision := r.checkDelegation(d, req); !decision.Allowed {
		r.auditDenial(req, decision)
		return domain.Actor{}, decision, nil
	}

	return domain.Actor{
		Type:            domain.ActorAgent,
		ID:              req.ActorID,
		OwnerUID:        req.OwnerUID,
		TenantID:        req.TenantID,
		EffectiveScopes: d.Scopes,
	}, domain.Allow(), nil
}

func (r *Resolver) checkDelegation(d *domain.Delegation, req Request) domain.Decision {
	switch {
	case d == nil:
		return domain.Deny(domain.ReasonDelegationMissing, "no delegation for agent/owner pair")
	case d.OwnerUID != req.OwnerUID || d.AgentUID != req.ActorID:
		// Defense in depth: the source is keyed by the pair, but a bad
		// source implementation must not slip through.
		return domain.Deny(domain.ReasonDelegationOwnerMismatch, "delegation does not bind this agent/owner pair")
	case d.Revoked():
		return domain.Deny(domain.ReasonDelegationRevoked, "delegation has been revoked")
	case d.ExpiredAt(r.now()):
		return domain.Deny(domain.ReasonDelegationExpired, "delegation has expired")
	case !d.HasScope(domain.ExecuteScope(req.CapabilityID)):
		return domain.Deny(domain.ReasonDelegationScopeMismatch, "delegation scopes do not cover this capability")
	}
	return domain.Allow()
}

// auditDenial records the denial with a redacted trace: identifiers only,
// never the request payload.
func (r *Resolver) auditDenial(req Request, decision domain.Decision) {
	r.sink.Log(audit.Event{
		ActorType: req.ActorType,
		ActorID:   req.ActorID,
		Action:    audit.ActionDelegationDenied,
		Target:    req.CapabilityID,
		Metadata: map[string]string{
			"reason_code": string(decision.ReasonCode),
			"owner_uid":   req.OwnerUID,
			"tenant_id":   req.TenantID,
			"principal":   req.PrincipalID,
		},
	})
	r.logger.Warn("delegation denied",
		zap.String("agent", req.ActorID),
		zap.String("capability", req.CapabilityID),
		zap.String("reason", string(decision.ReasonCode)),
	)
}
