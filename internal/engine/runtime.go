package engine

/*
runtime.go is the proposal lifecycle engine: the component that turns a raw
intent into a reviewable, authorized, audited, rate-limited operation.

Authorization runs as an explicit pipeline of stages, each returning a
uniform domain.Decision: resolve actor -> classify intake -> consume quota.
Only after every stage passes does the state machine move, and proposal
transitions go through the store's compare-and-set methods so concurrent
callers on the same proposal cannot both win.
*/

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/actor"
	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/infra"
	"github.com/xela07ax/capgov/internal/intake"
	"github.com/xela07ax/capgov/internal/quota"
)

// PilotExecutor is the one external-effect boundary the engine may invoke,
// and only for proposals in approved status.
type PilotExecutor interface {
	DryRun(ctx context.Context, input []byte) (string, error)
	Execute(ctx context.Context, proposalID, idempotencyKey string, input []byte) (domain.PilotResult, error)
	Rollback(ctx context.Context, proposalID, idempotencyKey, reason string) (domain.RollbackResult, error)
}

type Runtime struct {
	caps       *domain.CapabilitySet
	proposals  ProposalStore
	resolver   *actor.Resolver
	classifier *intake.Classifier
	limiter    quota.Limiter
	quotaCfg   infra.QuotaConfig
	policy     *PolicyManager
	pilot      PilotExecutor
	sink       audit.Sink
	logger     *zap.Logger
	metrics    *Metrics

	minRationaleLen int
	now             func() time.Time
}

type Options struct {
	Capabilities    *domain.CapabilitySet
	Proposals       ProposalStore
	Resolver        *actor.Resolver
	Classifier      *intake.Classifier
	Limiter         quota.Limiter
	QuotaConfig     infra.QuotaConfig
	Policy          *PolicyManager
	Pilot           PilotExecutor
	Sink            audit.Sink
	Logger          *zap.Logger
	Metrics         *Metrics
	MinRationaleLen int
}

func NewRuntime(opts Options) *Runtime {
	if opts.MinRationaleLen <= 0 {
		opts.MinRationaleLen = 10
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Runtime{
		caps:            opts.Capabilities,
		proposals:       opts.Proposals,
		resolver:        opts.Resolver,
		classifier:      opts.Classifier,
		limiter:         opts.Limiter,
		quotaCfg:        opts.QuotaConfig,
		policy:          opts.Policy,
		pilot:           opts.Pilot,
		sink:            opts.Sink,
		logger:          opts.Logger.Named("engine"),
		metrics:         opts.Metrics,
		minRationaleLen: opts.MinRationaleLen,
		now:             time.Now,
	}
}

// WithClock substitutes the time source (tests).
func (rt *Runtime) WithClock(now func() time.Time) *Runtime {
	rt.now = now
	return rt
}

// CreateRequest is a raw intent: "I want this capability exercised".
type CreateRequest struct {
	CapabilityID    string           `json:"capability_id"`
	ActorType       domain.ActorType `json:"actor_type"`
	ActorID         string           `json:"actor_id"`
	OwnerUID        string           `json:"owner_uid"`
	TenantID        string           `json:"tenant_id"`
	Rationale       string           `json:"rationale"`
	PreviewSummary  string           `json:"preview_summary,omitempty"`
	RequestInput    json.RawMessage  `json:"request_input,omitempty"`
	ExpectedEffects string           `json:"expected_effects,omitempty"`
}

// ExecuteRequest carries the execute-time actor context. The actor is
// re-resolved here: approval time and execute time are different moments and
// a delegation may have expired in between.
type ExecuteRequest struct {
	ProposalID     string           `json:"proposal_id"`
	ActorType      domain.ActorType `json:"actor_type"`
	ActorID        string           `json:"actor_id"`
	OwnerUID       string           `json:"owner_uid"`
	TenantID       string           `json:"tenant_id"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// requestContext threads one request through the stage pipeline.
type requestContext struct {
	principal   domain.Principal
	capability  domain.Capability
	actorReq    actor.Request
	actionClass string // quota action class: "create", "execute"
	rationale   string
	preview     string
	payload     []byte

	resolved domain.Actor
}

type stage func(ctx context.Context, rc *requestContext) (domain.Decision, error)

func (rt *Runtime) pipeline() []stage {
	return []stage{rt.stageResolveActor, rt.stageClassifyIntake, rt.stageConsumeQuota}
}

func (rt *Runtime) runPipeline(ctx context.Context, rc *requestContext) (domain.Decision, error) {
	for _, s := range rt.pipeline() {
		d, err := s(ctx, rc)
		if err != nil {
			return domain.Decision{}, err
		}
		if !d.Allowed {
			return d, nil
		}
	}
	return domain.Allow(), nil
}

func (rt *Runtime) stageResolveActor(ctx context.Context, rc *requestContext) (domain.Decision, error) {
	resolved, d, err := rt.resolver.Resolve(ctx, rc.actorReq)
	if err != nil || !d.Allowed {
		return d, err
	}
	rc.resolved = resolved
	return domain.Allow(), nil
}

func (rt *Runtime) stageClassifyIntake(ctx context.Context, rc *requestContext) (domain.Decision, error) {
	// Staff and system actors bypass the screen.
	if rc.resolved.Type != domain.ActorAgent {
		return domain.Allow(), nil
	}
	_, d, err := rt.classifier.Screen(ctx, intake.Input{
		ActorID:      rc.resolved.ID,
		OwnerUID:     rc.resolved.OwnerUID,
		CapabilityID: rc.capability.ID,
		Rationale:    rc.rationale,
		Preview:      rc.preview,
		Payload:      rc.payload,
	})
	return d, err
}

func (rt *Runtime) stageConsumeQuota(ctx context.Context, rc *requestContext) (domain.Decision, error) {
	rule := rt.quotaCfg.RuleFor(rc.actionClass)
	key := domain.QuotaKey(rc.resolved.ID, rc.capability.ID, rc.actionClass)

	res, err := rt.limiter.Consume(ctx, key, rule.Limit, rule.WindowSeconds, rt.now())
	if err != nil {
		return domain.Decision{}, err
	}
	if res.Allowed {
		return domain.Allow(), nil
	}

	rt.sink.Log(audit.Event{
		ActorType: rc.resolved.Type,
		ActorID:   rc.resolved.ID,
		Action:    audit.ActionRateLimitTriggered,
		Target:    key,
		Metadata: map[string]string{
			"capability_id":       rc.capability.ID,
			"limit":               strconv.FormatInt(rule.Limit, 10),
			"window_seconds":      strconv.FormatInt(rule.WindowSeconds, 10),
			"retry_after_seconds": strconv.FormatInt(res.RetryAfterSeconds, 10),
		},
	})

	d := domain.Deny(domain.ReasonRateLimited, "quota exhausted for this window")
	d.RetryAfterSeconds = res.RetryAfterSeconds
	return d, nil
}

// Create runs the full intake path and, if everything passes, persists a new
// proposal in pending_approval.
func (rt *Runtime) Create(ctx context.Context, principal domain.Principal, req CreateRequest) (*domain.Proposal, domain.Decision, error) {
	capDef, ok := rt.caps.Get(req.CapabilityID)
	if !ok {
		return nil, rt.deny("create", domain.Deny(domain.ReasonCapabilityUnknown, "no such capability")), nil
	}
	if !req.ActorType.Valid() {
		return nil, rt.deny("create", domain.Deny(domain.ReasonInvalidRequest, "unknown actor type")), nil
	}
	if !capDef.AllowsActorType(req.ActorType) {
		return nil, rt.deny("create", domain.Deny(domain.ReasonActorTypeNotAllowed, "capability not open to this actor type")), nil
	}
	if len(req.Rationale) < rt.minRationaleLen {
		return nil, rt.deny("create", domain.Deny(domain.ReasonRationaleTooShort, "rationale below minimum length")), nil
	}

	rc := &requestContext{
		principal:  principal,
		capability: capDef,
		actorReq: actor.Request{
			ActorType:    req.ActorType,
			ActorID:      req.ActorID,
			OwnerUID:     req.OwnerUID,
			TenantID:     req.TenantID,
			CapabilityID: capDef.ID,
			PrincipalID:  principal.ID,
		},
		actionClass: "create",
		rationale:   req.Rationale,
		preview:     req.PreviewSummary,
		payload:     req.RequestInput,
	}

	if d, err := rt.runPipeline(ctx, rc); err != nil || !d.Allowed {
		return nil, rt.deny("create", d), err
	}

	// Kill switch blocks creation outright unless an exemption matches.
	if rt.policy.ExecutionBlocked(capDef.ID, req.OwnerUID, rt.now()) {
		d := domain.Deny(domain.ReasonBlockedByPolicy, "kill switch is enabled")
		rt.auditPolicyDenial(rc, "", d)
		return nil, rt.deny("create", d), nil
	}

	now := rt.now().UTC()
	p := &domain.Proposal{
		ID:               uuid.NewString(),
		CapabilityID:     capDef.ID,
		ActorType:        req.ActorType,
		ActorID:          req.ActorID,
		OwnerUID:         req.OwnerUID,
		TenantID:         req.TenantID,
		Rationale:        req.Rationale,
		PreviewSummary:   req.PreviewSummary,
		RequestInput:     req.RequestInput,
		RequestInputHash: hashBytes(req.RequestInput),
		ExpectedEffects:  req.ExpectedEffects,
		Status:           domain.StatusPendingApproval,
		RequestedBy:      principal.ID,
		CreatedAt:        now,
	}
	if err := rt.proposals.Create(ctx, p); err != nil {
		return nil, domain.Decision{}, err
	}

	rt.sink.Log(audit.Event{
		ActorType:     p.ActorType,
		ActorID:       p.ActorID,
		Action:        audit.ActionProposalCreated,
		Target:        p.ID,
		Rationale:     p.Rationale,
		ApprovalState: p.Status,
		InputHash:     p.RequestInputHash,
		Metadata: map[string]string{
			"capability_id": p.CapabilityID,
			"tenant_id":     p.TenantID,
			"requested_by":  p.RequestedBy,
		},
	})
	rt.metrics.Decisions.WithLabelValues("create", "allowed").Inc()
	return p, domain.Allow(), nil
}

// Approve moves pending_approval -> approved.
func (rt *Runtime) Approve(ctx context.Context, principal domain.Principal, proposalID, rationale string) (*domain.Proposal, domain.Decision, error) {
	return rt.review(ctx, principal, proposalID, rationale, audit.ActionProposalApproved, func(at time.Time) (*domain.Proposal, error) {
		return rt.proposals.Approve(ctx, proposalID, principal.ID, at)
	})
}

// Reject moves pending_approval -> rejected.
func (rt *Runtime) Reject(ctx context.Context, principal domain.Principal, proposalID, reason string) (*domain.Proposal, domain.Decision, error) {
	return rt.review(ctx, principal, proposalID, reason, audit.ActionProposalRejected, func(at time.Time) (*domain.Proposal, error) {
		return rt.proposals.Reject(ctx, proposalID, principal.ID, at)
	})
}

func (rt *Runtime) review(ctx context.Context, principal domain.Principal, proposalID, rationale, action string, transition func(time.Time) (*domain.Proposal, error)) (*domain.Proposal, domain.Decision, error) {
	op := "approve"
	if action == audit.ActionProposalRejected {
		op = "reject"
	}
	if len(rationale) < rt.minRationaleLen {
		return nil, rt.deny(op, domain.Deny(domain.ReasonRationaleTooShort, "rationale below minimum length")), nil
	}

	p, err := transition(rt.now().UTC())
	if err != nil {
		if d, handled := rt.transitionDenial(op, err); handled {
			return nil, d, nil
		}
		return nil, domain.Decision{}, err
	}

	rt.sink.Log(audit.Event{
		ActorType:     domain.ActorStaff,
		ActorID:       principal.ID,
		Action:        action,
		Target:        p.ID,
		Rationale:     rationale,
		ApprovalState: p.Status,
		Metadata:      map[string]string{"capability_id": p.CapabilityID},
	})
	rt.metrics.Decisions.WithLabelValues(op, "allowed").Inc()
	return p, domain.Allow(), nil
}

// Reopen moves rejected -> pending_approval. Rejection is not casually
// reversible: this path demands the admin role.
func (rt *Runtime) Reopen(ctx context.Context, principal domain.Principal, proposalID, reason string) (*domain.Proposal, domain.Decision, error) {
	if !principal.IsAdmin() {
		return nil, rt.deny("reopen", domain.Deny(domain.ReasonAdminRequired, "reopen requires the admin role")), nil
	}
	if len(reason) < rt.minRationaleLen {
		return nil, rt.deny("reopen", domain.Deny(domain.ReasonRationaleTooShort, "reason below minimum length")), nil
	}

	p, err := rt.proposals.Reopen(ctx, proposalID, rt.now().UTC())
	if err != nil {
		if d, handled := rt.transitionDenial("reopen", err); handled {
			return nil, d, nil
		}
		return nil, domain.Decision{}, err
	}

	rt.sink.Log(audit.Event{
		ActorType:     domain.ActorStaff,
		ActorID:       principal.ID,
		Action:        audit.ActionProposalReopened,
		Target:        p.ID,
		Rationale:     reason,
		ApprovalState: p.Status,
	})
	rt.metrics.Decisions.WithLabelValues("reopen", "allowed").Inc()
	return p, domain.Allow(), nil
}

// Execute is the only path to a real-world effect. Every check that could
// have changed since approval is re-run here, and the final status move is
// compare-and-set.
func (rt *Runtime) Execute(ctx context.Context, principal domain.Principal, req ExecuteRequest) (*domain.Proposal, *domain.PilotResult, domain.Decision, error) {
	start := rt.now()

	p, err := rt.proposals.Get(ctx, req.ProposalID)
	if err != nil {
		return nil, nil, domain.Decision{}, err
	}
	capDef, ok := rt.caps.Get(p.CapabilityID)
	if !ok {
		return nil, nil, rt.deny("execute", domain.Deny(domain.ReasonCapabilityUnknown, "capability definition missing")), nil
	}

	rc := &requestContext{
		principal:  principal,
		capability: capDef,
		actorReq: actor.Request{
			ActorType:    req.ActorType,
			ActorID:      req.ActorID,
			OwnerUID:     req.OwnerUID,
			TenantID:     req.TenantID,
			CapabilityID: capDef.ID,
			PrincipalID:  principal.ID,
		},
		actionClass: "execute",
		rationale:   p.Rationale,
		preview:     p.PreviewSummary,
		payload:     p.RequestInput,
	}
	if d, err := rt.runPipeline(ctx, rc); err != nil || !d.Allowed {
		return nil, nil, rt.deny("execute", d), err
	}

	// Kill switch may have flipped since approval.
	if rt.policy.ExecutionBlocked(capDef.ID, p.OwnerUID, rt.now()) {
		d := domain.Deny(domain.ReasonBlockedByPolicy, "kill switch is enabled")
		rt.auditPolicyDenial(rc, p.ID, d)
		return nil, nil, rt.deny("execute", d), nil
	}

	// Cross-tenant execution signals an upstream authorization bug; it is
	// always audited independently of the caller's view.
	if p.TenantID != rc.resolved.TenantID {
		rt.sink.Log(audit.Event{
			ActorType: rc.resolved.Type,
			ActorID:   rc.resolved.ID,
			Action:    audit.ActionCrossTenant,
			Target:    p.ID,
			Metadata: map[string]string{
				"proposal_tenant": p.TenantID,
				"actor_tenant":    rc.resolved.TenantID,
			},
		})
		return nil, nil, rt.deny("execute", domain.Deny(domain.ReasonTenantMismatch, "proposal belongs to a different tenant")), nil
	}

	if p.Status != domain.StatusApproved {
		return nil, nil, rt.deny("execute", domain.Deny(domain.ReasonInvalidState, "proposal is not approved")), nil
	}

	var result *domain.PilotResult
	if capDef.PilotWrite {
		// External-effect capabilities must never fire from a race:
		// re-assert approval right before the effect even though the
		// state machine already implies it.
		if p.Status != domain.StatusApproved {
			return nil, nil, rt.deny("execute", domain.Deny(domain.ReasonInvalidState, "proposal is not approved")), nil
		}

		key := req.IdempotencyKey
		if key == "" {
			key = uuid.NewString()
		}
		key, err = rt.proposals.EnsureIdempotencyKey(ctx, p.ID, key)
		if err != nil {
			return nil, nil, domain.Decision{}, err
		}

		if _, err := rt.pilot.DryRun(ctx, p.RequestInput); err != nil {
			// Same caller contract as a failed commit: the proposal stays
			// approved and the outcome is an EXECUTION_FAILED denial.
			rt.auditExecutionFailure(rc, p, key, err)
			d := domain.Deny(domain.ReasonExecutionFailed, err.Error())
			rt.metrics.ExecuteDuration.WithLabelValues(capDef.ID, "failed").Observe(rt.now().Sub(start).Seconds())
			return nil, nil, rt.deny("execute", d), nil
		}

		res, err := rt.pilot.Execute(ctx, p.ID, key, p.RequestInput)
		if err != nil {
			// Proposal stays approved: a retry with the same key is safe.
			rt.auditExecutionFailure(rc, p, key, err)
			d := domain.Deny(domain.ReasonExecutionFailed, err.Error())
			rt.metrics.ExecuteDuration.WithLabelValues(capDef.ID, "failed").Observe(rt.now().Sub(start).Seconds())
			return nil, nil, rt.deny("execute", d), nil
		}
		result = &res
	}

	executed, err := rt.proposals.MarkExecuted(ctx, p.ID, rt.now().UTC())
	if err != nil {
		if d, handled := rt.transitionDenial("execute", err); handled {
			// A concurrent execute won the CAS. The external effect (if
			// any) was not duplicated thanks to the idempotency key.
			return nil, result, d, nil
		}
		return nil, nil, domain.Decision{}, err
	}

	event := audit.Event{
		ActorType:     rc.resolved.Type,
		ActorID:       rc.resolved.ID,
		Action:        audit.ActionProposalExecuted,
		Target:        executed.ID,
		ApprovalState: executed.Status,
		InputHash:     executed.RequestInputHash,
		Metadata:      map[string]string{"capability_id": executed.CapabilityID},
	}
	if result != nil {
		event.OutputHash = result.OutputHash
		event.Metadata["resource_pointer"] = result.ResourcePointer
		event.Metadata["replayed"] = boolStr(result.Replayed)
	}
	rt.sink.Log(event)

	rt.metrics.Decisions.WithLabelValues("execute", "allowed").Inc()
	rt.metrics.ExecuteDuration.WithLabelValues(capDef.ID, "ok").Observe(rt.now().Sub(start).Seconds())
	return executed, result, domain.Allow(), nil
}

// DryRun previews the pilot effect without any state change.
func (rt *Runtime) DryRun(ctx context.Context, proposalID string) (string, domain.Decision, error) {
	p, err := rt.proposals.Get(ctx, proposalID)
	if err != nil {
		return "", domain.Decision{}, err
	}
	capDef, ok := rt.caps.Get(p.CapabilityID)
	if !ok || !capDef.SupportsDryRun {
		return "", domain.Deny(domain.ReasonInvalidRequest, "capability does not support dry-run"), nil
	}
	preview, err := rt.pilot.DryRun(ctx, p.RequestInput)
	if err != nil {
		return "", domain.Decision{}, err
	}
	return preview, domain.Allow(), nil
}

// Rollback compensates an executed pilot write. The proposal stays in
// executed status; the rollback is its own audited outcome.
func (rt *Runtime) Rollback(ctx context.Context, principal domain.Principal, proposalID, reason string) (*domain.RollbackResult, domain.Decision, error) {
	if len(reason) < rt.minRationaleLen {
		return nil, rt.deny("rollback", domain.Deny(domain.ReasonRationaleTooShort, "reason below minimum length")), nil
	}

	p, err := rt.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, domain.Decision{}, err
	}
	capDef, ok := rt.caps.Get(p.CapabilityID)
	if !ok || !capDef.SupportsRollback {
		return nil, rt.deny("rollback", domain.Deny(domain.ReasonInvalidRequest, "capability does not support rollback")), nil
	}
	if p.Status != domain.StatusExecuted || p.IdempotencyKey == "" {
		return nil, rt.deny("rollback", domain.Deny(domain.ReasonInvalidState, "proposal has not been executed")), nil
	}

	res, err := rt.pilot.Rollback(ctx, p.ID, p.IdempotencyKey, reason)
	if err != nil {
		rt.sink.Log(audit.Event{
			ActorType: domain.ActorStaff,
			ActorID:   principal.ID,
			Action:    audit.ActionNoteRollbackFailed,
			Target:    p.ID,
			Rationale: reason,
			Metadata:  map[string]string{"error": err.Error()},
		})
		return nil, rt.deny("rollback", domain.Deny(domain.ReasonExecutionFailed, err.Error())), nil
	}

	rt.sink.Log(audit.Event{
		ActorType: domain.ActorStaff,
		ActorID:   principal.ID,
		Action:    audit.ActionNoteRolledBack,
		Target:    p.ID,
		Rationale: reason,
		Metadata:  map[string]string{"replayed": boolStr(res.Replayed)},
	})
	rt.metrics.Decisions.WithLabelValues("rollback", "allowed").Inc()
	return &res, domain.Allow(), nil
}

func (rt *Runtime) Get(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	return rt.proposals.Get(ctx, proposalID)
}

func (rt *Runtime) List(ctx context.Context, limit int) ([]*domain.Proposal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return rt.proposals.List(ctx, limit)
}

// transitionDenial maps store-level CAS conflicts onto decisions. Not-found
// and conflict are caller-facing denials; anything else is infrastructure.
func (rt *Runtime) transitionDenial(op string, err error) (domain.Decision, bool) {
	switch {
	case errors.Is(err, domain.ErrStatusConflict), errors.Is(err, domain.ErrInvalidTransition):
		return rt.deny(op, domain.Deny(domain.ReasonInvalidState, "proposal is not in the required status")), true
	case errors.Is(err, domain.ErrProposalNotFound):
		return rt.deny(op, domain.Deny(domain.ReasonInvalidRequest, "proposal not found")), true
	}
	return domain.Decision{}, false
}

func (rt *Runtime) auditPolicyDenial(rc *requestContext, proposalID string, d domain.Decision) {
	rt.sink.Log(audit.Event{
		ActorType: rc.actorReq.ActorType,
		ActorID:   rc.actorReq.ActorID,
		Action:    audit.ActionProposalDenied,
		Target:    proposalID,
		Metadata: map[string]string{
			"reason_code":   string(d.ReasonCode),
			"capability_id": rc.capability.ID,
		},
	})
}

func (rt *Runtime) auditExecutionFailure(rc *requestContext, p *domain.Proposal, key string, err error) {
	rt.sink.Log(audit.Event{
		ActorType:     rc.resolved.Type,
		ActorID:       rc.resolved.ID,
		Action:        audit.ActionNoteExecutionFailed,
		Target:        p.ID,
		ApprovalState: p.Status,
		Metadata: map[string]string{
			"capability_id":   p.CapabilityID,
			"idempotency_key": key,
			"error":           err.Error(),
		},
	})
	rt.logger.Error("pilot execution failed",
		zap.String("proposal_id", p.ID),
		zap.Error(err),
	)
}

func (rt *Runtime) deny(op string, d domain.Decision) domain.Decision {
	if d.ReasonCode != "" {
		rt.metrics.Decisions.WithLabelValues(op, "denied").Inc()
		rt.metrics.Denials.WithLabelValues(string(d.ReasonCode)).Inc()
	}
	return d
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

