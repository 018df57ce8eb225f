package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/actor"
	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/engine"
	"github.com/xela07ax/capgov/internal/infra"
	"github.com/xela07ax/capgov/internal/intake"
	"github.com/xela07ax/capgov/internal/pilot"
	"github.com/xela07ax/capgov/internal/quota"
	"github.com/xela07ax/capgov/internal/repository/memory"
)

// syncSink writes straight through to the store so tests can assert on audit
// rows without waiting for the batched recorder.
type syncSink struct {
	store audit.EventStore
}

func (s syncSink) Log(e audit.Event) {
	_ = s.store.AppendBatch(context.Background(), []audit.Event{e})
}

func (s syncSink) LogSync(ctx context.Context, e audit.Event) error {
	return s.store.AppendBatch(ctx, []audit.Event{e})
}

var (
	staff = domain.Principal{ID: "u-staff", Role: domain.RoleStaff}
	admin = domain.Principal{ID: "u-admin", Role: domain.RoleAdmin}
)

type env struct {
	store   *memory.Store
	runtime *engine.Runtime
	policy  *engine.PolicyManager
}

func newEnv(t *testing.T, quotaCfg infra.QuotaConfig) *env {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New()
	sink := syncSink{store: store}
	metrics := engine.NewMetrics(nil)

	policyMgr := engine.NewPolicyManager(store, sink, nil, logger, 10, metrics)
	require.NoError(t, policyMgr.Init(context.Background(), false))

	if quotaCfg.Default.Limit == 0 {
		quotaCfg.Default = infra.QuotaRule{Limit: 1000, WindowSeconds: 60}
	}

	rt := engine.NewRuntime(engine.Options{
		Capabilities:    domain.NewCapabilitySet(engine.DefaultCapabilities()),
		Proposals:       store,
		Resolver:        actor.NewResolver(store, sink, logger),
		Classifier:      intake.NewClassifier(intake.DefaultRules(), store, sink, logger),
		Limiter:         quota.NewMemoryLimiter(),
		QuotaConfig:     quotaCfg,
		Policy:          policyMgr,
		Pilot:           pilot.NewNoteExecutor(pilot.NewMockNoteService(), logger),
		Sink:            sink,
		Logger:          logger,
		Metrics:         metrics,
		MinRationaleLen: 10,
	})

	return &env{store: store, runtime: rt, policy: policyMgr}
}

func noteCreateRequest() engine.CreateRequest {
	return engine.CreateRequest{
		CapabilityID: "pilot_note.attach",
		ActorType:    domain.ActorStaff,
		ActorID:      "u-staff",
		OwnerUID:     "owner-1",
		TenantID:     "tenant-1",
		Rationale:    "attach the delivery confirmation note",
		RequestInput: json.RawMessage(`{"owner_uid":"owner-1","tenant_id":"tenant-1","body":"delivery confirmed"}`),
	}
}

func executeRequest(proposalID string) engine.ExecuteRequest {
	return engine.ExecuteRequest{
		ProposalID: proposalID,
		ActorType:  domain.ActorStaff,
		ActorID:    "u-staff",
		OwnerUID:   "owner-1",
		TenantID:   "tenant-1",
	}
}

func (e *env) createApproved(t *testing.T) *domain.Proposal {
	t.Helper()
	ctx := context.Background()

	p, d, err := e.runtime.Create(ctx, staff, noteCreateRequest())
	require.NoError(t, err)
	require.True(t, d.Allowed, "create denied: %s", d.ReasonCode)

	approved, d, err := e.runtime.Approve(ctx, staff, p.ID, "reviewed and looks correct")
	require.NoError(t, err)
	require.True(t, d.Allowed, "approve denied: %s", d.ReasonCode)
	return approved
}

func (e *env) auditActions(t *testing.T, prefix string) []string {
	t.Helper()
	events, err := e.store.Query(context.Background(), audit.Filter{ActionPrefix: prefix, Limit: 500})
	require.NoError(t, err)
	actions := make([]string, len(events))
	for i, ev := range events {
		actions[i] = ev.Action
	}
	return actions
}

func TestLifecycleHappyPath(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()

	approved := e.createApproved(t)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.Equal(t, "u-staff", approved.ApprovedBy)

	executed, result, d, err := e.runtime.Execute(ctx, staff, executeRequest(approved.ID))
	require.NoError(t, err)
	require.True(t, d.Allowed, "execute denied: %s", d.ReasonCode)
	assert.Equal(t, domain.StatusExecuted, executed.Status)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.ResourcePointer)
	assert.False(t, result.Replayed)
	assert.NotEmpty(t, executed.IdempotencyKey)

	assert.Equal(t,
		[]string{audit.ActionProposalCreated, audit.ActionProposalApproved, audit.ActionProposalExecuted},
		e.auditActions(t, "proposal."))
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()

	req := noteCreateRequest()
	req.CapabilityID = "no.such.capability"
	_, d, err := e.runtime.Create(ctx, staff, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCapabilityUnknown, d.ReasonCode)

	req = noteCreateRequest()
	req.Rationale = "short"
	_, d, err = e.runtime.Create(ctx, staff, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonRationaleTooShort, d.ReasonCode)

	// device.status.read allows system actors; pilot_note.attach does not.
	req = noteCreateRequest()
	req.ActorType = domain.ActorSystem
	req.ActorID = "cron-1"
	_, d, err = e.runtime.Create(ctx, staff, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonActorTypeNotAllowed, d.ReasonCode)
}

func TestRejectAndReopen(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()

	p, d, err := e.runtime.Create(ctx, staff, noteCreateRequest())
	require.NoError(t, err)
	require.True(t, d.Allowed)

	rejected, d, err := e.runtime.Reject(ctx, staff, p.ID, "wrong owner on the request")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, domain.StatusRejected, rejected.Status)

	// Reopen is admin-only.
	_, d, err = e.runtime.Reopen(ctx, staff, p.ID, "need a second look")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonAdminRequired, d.ReasonCode)

	reopened, d, err := e.runtime.Reopen(ctx, admin, p.ID, "need a second look")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, domain.StatusPendingApproval, reopened.Status)
	assert.Empty(t, reopened.RejectedBy)
}

func TestExecuteRequiresApproval(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()

	p, _, err := e.runtime.Create(ctx, staff, noteCreateRequest())
	require.NoError(t, err)

	_, _, d, err := e.runtime.Execute(ctx, staff, executeRequest(p.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInvalidState, d.ReasonCode)
}

func TestKillSwitchAndExemption(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()

	approved := e.createApproved(t)

	d, err := e.policy.SetKillSwitch(ctx, admin, true, "incident 4411, freezing all writes")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Creation and execution are both blocked now.
	_, d, err = e.runtime.Create(ctx, staff, noteCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonBlockedByPolicy, d.ReasonCode)

	_, _, d, err = e.runtime.Execute(ctx, staff, executeRequest(approved.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonBlockedByPolicy, d.ReasonCode)
	assert.Contains(t, e.auditActions(t, audit.ActionProposalDenied), audit.ActionProposalDenied)

	// A matching exemption reopens the path for this capability/owner.
	_, d, err = e.policy.CreateExemption(ctx, admin, "pilot_note.attach", "owner-1",
		"incident response notes must still land", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, d.Allowed)

	executed, _, d, err := e.runtime.Execute(ctx, staff, executeRequest(approved.ID))
	require.NoError(t, err)
	require.True(t, d.Allowed, "exempted execute denied: %s", d.ReasonCode)
	assert.Equal(t, domain.StatusExecuted, executed.Status)
}

func TestTenantMismatchIsAudited(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()

	approved := e.createApproved(t)

	req := executeRequest(approved.ID)
	req.TenantID = "tenant-2"
	_, _, d, err := e.runtime.Execute(ctx, staff, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonTenantMismatch, d.ReasonCode)

	events, err := e.store.Query(ctx, audit.Filter{ActionPrefix: audit.ActionCrossTenant})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, approved.ID, events[0].Target)
	assert.Equal(t, "tenant-1", events[0].Metadata["proposal_tenant"])
	assert.Equal(t, "tenant-2", events[0].Metadata["actor_tenant"])

	// The proposal did not move.
	p, err := e.runtime.Get(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, p.Status)
}

func TestCreateRateLimited(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{
		Rules: map[string]infra.QuotaRule{
			"create": {Limit: 1, WindowSeconds: 60},
		},
		Default: infra.QuotaRule{Limit: 1000, WindowSeconds: 60},
	})
	ctx := context.Background()

	_, d, err := e.runtime.Create(ctx, staff, noteCreateRequest())
	require.NoError(t, err)
	require.True(t, d.Allowed)

	_, d, err = e.runtime.Create(ctx, staff, noteCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonRateLimited, d.ReasonCode)
	assert.Greater(t, d.RetryAfterSeconds, int64(0))

	events, err := e.store.Query(ctx, audit.Filter{ActionPrefix: audit.ActionRateLimitTriggered})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "1", events[0].Metadata["limit"])
}

func TestConcurrentExecuteSingleWinner(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	approved := e.createApproved(t)

	const callers = 8
	decisions := make([]domain.Decision, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, d, err := e.runtime.Execute(context.Background(), staff, executeRequest(approved.ID))
			if assert.NoError(t, err) {
				decisions[i] = d
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, d := range decisions {
		if d.Allowed {
			winners++
		} else {
			assert.Equal(t, domain.ReasonInvalidState, d.ReasonCode)
		}
	}
	assert.Equal(t, 1, winners)

	p, err := e.runtime.Get(context.Background(), approved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, p.Status)

	// One durable executed event, regardless of how many callers raced.
	events, err := e.store.Query(context.Background(), audit.Filter{ActionPrefix: audit.ActionProposalExecuted})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAgentDelegationGate(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()

	req := noteCreateRequest()
	req.ActorType = domain.ActorAgent
	req.ActorID = "agent-1"

	_, d, err := e.runtime.Create(ctx, staff, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDelegationMissing, d.ReasonCode)

	e.store.AddDelegation(domain.Delegation{
		ID:        "d1",
		AgentUID:  "agent-1",
		OwnerUID:  "owner-1",
		Scopes:    []string{domain.ExecuteScope("pilot_note.attach")},
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
	})

	p, d, err := e.runtime.Create(ctx, staff, req)
	require.NoError(t, err)
	require.True(t, d.Allowed, "delegated create denied: %s", d.ReasonCode)
	assert.Equal(t, domain.ActorAgent, p.ActorType)
}

// runtimeWithPilot rebuilds the engine over the same store and policy
// aggregate with a different note service behind the executor.
func (e *env) runtimeWithPilot(svc pilot.NoteService) *engine.Runtime {
	logger := zap.NewNop()
	sink := syncSink{store: e.store}
	return engine.NewRuntime(engine.Options{
		Capabilities:    domain.NewCapabilitySet(engine.DefaultCapabilities()),
		Proposals:       e.store,
		Resolver:        actor.NewResolver(e.store, sink, logger),
		Classifier:      intake.NewClassifier(intake.DefaultRules(), e.store, sink, logger),
		Limiter:         quota.NewMemoryLimiter(),
		QuotaConfig:     infra.QuotaConfig{Default: infra.QuotaRule{Limit: 1000, WindowSeconds: 60}},
		Policy:          e.policy,
		Pilot:           pilot.NewNoteExecutor(svc, logger),
		Sink:            sink,
		Logger:          logger,
		MinRationaleLen: 10,
	})
}

// failingNoteService previews fine but cannot commit.
type failingNoteService struct {
	*pilot.MockNoteService
}

func (f failingNoteService) Create(context.Context, string, pilot.NoteRequest) (pilot.NoteReceipt, error) {
	return pilot.NoteReceipt{}, assert.AnError
}

func TestExecutionFailureKeepsProposalApproved(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()
	approved := e.createApproved(t)

	// Swap the executor for one whose downstream write fails.
	rtFail := e.runtimeWithPilot(failingNoteService{pilot.NewMockNoteService()})

	_, _, d, err := rtFail.Execute(ctx, staff, executeRequest(approved.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonExecutionFailed, d.ReasonCode)

	// Still approved: a retry with the same idempotency key is safe.
	p, err := rtFail.Get(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, p.Status)
	assert.NotEmpty(t, p.IdempotencyKey)

	events, err := e.store.Query(ctx, audit.Filter{ActionPrefix: audit.ActionNoteExecutionFailed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, p.IdempotencyKey, events[0].Metadata["idempotency_key"])
}

// failingPreviewService cannot even produce a dry-run preview.
type failingPreviewService struct {
	*pilot.MockNoteService
}

func (f failingPreviewService) Preview(context.Context, pilot.NoteRequest) (string, error) {
	return "", assert.AnError
}

func TestExecuteDryRunFailureIsDenial(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()
	approved := e.createApproved(t)

	rtFail := e.runtimeWithPilot(failingPreviewService{pilot.NewMockNoteService()})

	// A preview failure denies like a failed commit instead of surfacing a
	// raw infrastructure error.
	_, _, d, err := rtFail.Execute(ctx, staff, executeRequest(approved.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonExecutionFailed, d.ReasonCode)

	p, err := rtFail.Get(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, p.Status)

	events, err := e.store.Query(ctx, audit.Filter{ActionPrefix: audit.ActionNoteExecutionFailed})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRollback(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()

	approved := e.createApproved(t)
	executed, _, d, err := e.runtime.Execute(ctx, staff, executeRequest(approved.ID))
	require.NoError(t, err)
	require.True(t, d.Allowed)

	res, d, err := e.runtime.Rollback(ctx, staff, executed.ID, "note attached to the wrong record")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.True(t, res.OK)

	// Rollback does not move the state machine; the audit trail records it.
	p, err := e.runtime.Get(ctx, executed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, p.Status)
	assert.Contains(t, e.auditActions(t, "pilot_note."), audit.ActionNoteRolledBack)

	// Rolling back a never-executed proposal is refused.
	fresh, _, err := e.runtime.Create(ctx, staff, noteCreateRequest())
	require.NoError(t, err)
	_, d, err = e.runtime.Rollback(ctx, staff, fresh.ID, "note attached to the wrong record")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInvalidState, d.ReasonCode)
}

func TestDryRunPreview(t *testing.T) {
	e := newEnv(t, infra.QuotaConfig{})
	ctx := context.Background()

	p, _, err := e.runtime.Create(ctx, staff, noteCreateRequest())
	require.NoError(t, err)

	preview, d, err := e.runtime.DryRun(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.NotEmpty(t, preview)
}
