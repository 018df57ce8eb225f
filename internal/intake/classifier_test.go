package intake_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/intake"
	"github.com/xela07ax/capgov/internal/repository/memory"
)

// syncSink writes straight through to the store so the projection and the
// override lookup observe events within the test.
type syncSink struct {
	store audit.EventStore
}

func (s syncSink) Log(e audit.Event) {
	_ = s.store.AppendBatch(context.Background(), []audit.Event{e})
}

func (s syncSink) LogSync(ctx context.Context, e audit.Event) error {
	return s.store.AppendBatch(ctx, []audit.Event{e})
}

func newTestClassifier(store *memory.Store) *intake.Classifier {
	return intake.NewClassifier(intake.DefaultRules(), store, syncSink{store: store}, zap.NewNop())
}

func blockedInput() intake.Input {
	return intake.Input{
		ActorID:      "agent-1",
		OwnerUID:     "owner-1",
		CapabilityID: "pilot_note.attach",
		Rationale:    "Replicate the style of the flagship store for this client",
	}
}

func TestScreenAllowsSafeIntent(t *testing.T) {
	store := memory.New()
	c := newTestClassifier(store)

	cls, d, err := c.Screen(context.Background(), intake.Input{
		ActorID:      "agent-1",
		OwnerUID:     "owner-1",
		CapabilityID: "pilot_note.attach",
		Rationale:    "Attach the delivery confirmation note for order 812",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.IntakeSafe, cls.Category)
	assert.False(t, cls.Blocked)

	// Safe intents leave no intake events behind.
	events, err := store.Query(context.Background(), audit.Filter{ActionPrefix: "intake."})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestScreenBlocksRestrictedIntent(t *testing.T) {
	store := memory.New()
	c := newTestClassifier(store)

	cls, d, err := c.Screen(context.Background(), blockedInput())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonBlockedByIntakePolicy, d.ReasonCode)
	assert.Equal(t, cls.IntakeID, d.IntakeID)
	assert.Equal(t, domain.IntakeIPInfringement, cls.Category)

	events, err := store.Query(context.Background(), audit.Filter{ActionPrefix: "intake."})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionIntakeClassified, events[0].Action)
	assert.Equal(t, audit.ActionIntakeRouted, events[1].Action)
}

func TestIntakeIDIsDeterministic(t *testing.T) {
	store := memory.New()
	c := newTestClassifier(store)
	ctx := context.Background()

	first, _, err := c.Screen(ctx, blockedInput())
	require.NoError(t, err)

	// Same content with different casing and spacing collapses to one id.
	in := blockedInput()
	in.Rationale = "  REPLICATE   the style of the flagship store\nfor this client "
	second, _, err := c.Screen(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.IntakeID, second.IntakeID)

	// Different actor means a different review item.
	in = blockedInput()
	in.ActorID = "agent-2"
	third, _, err := c.Screen(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.IntakeID, third.IntakeID)
}

func TestGrantedOverrideUnblocksRetry(t *testing.T) {
	store := memory.New()
	c := newTestClassifier(store)
	overrides := intake.NewOverrides(syncSink{store: store}, zap.NewNop(), 10)
	ctx := context.Background()
	staff := domain.Principal{ID: "reviewer-1", Role: domain.RoleStaff}

	cls, d, err := c.Screen(ctx, blockedInput())
	require.NoError(t, err)
	require.False(t, d.Allowed)

	od, err := overrides.Apply(ctx, staff, domain.OverrideDecision{
		IntakeID:   cls.IntakeID,
		Decision:   domain.OverrideGranted,
		ReasonCode: "false_positive",
		Rationale:  "style reference is the client's own brand",
	})
	require.NoError(t, err)
	require.True(t, od.Allowed)

	// The identical retry now passes; a different intent stays blocked.
	_, retry, err := c.Screen(ctx, blockedInput())
	require.NoError(t, err)
	assert.True(t, retry.Allowed)

	other := blockedInput()
	other.Rationale = "Copy the design of a competitor's landing page"
	_, otherD, err := c.Screen(ctx, other)
	require.NoError(t, err)
	assert.False(t, otherD.Allowed)
}

func TestGrantedOverrideOutlivesLaterDecisions(t *testing.T) {
	store := memory.New()
	c := newTestClassifier(store)
	overrides := intake.NewOverrides(syncSink{store: store}, zap.NewNop(), 10)
	ctx := context.Background()
	staff := domain.Principal{ID: "reviewer-1", Role: domain.RoleStaff}

	cls, _, err := c.Screen(ctx, blockedInput())
	require.NoError(t, err)

	_, err = overrides.Apply(ctx, staff, domain.OverrideDecision{
		IntakeID:   cls.IntakeID,
		Decision:   domain.OverrideGranted,
		ReasonCode: "false_positive",
		Rationale:  "style reference is the client's own brand",
	})
	require.NoError(t, err)

	// Pile later override decisions onto other intake ids, well past any
	// bounded recency window a store query could default to.
	for i := 0; i < 150; i++ {
		in := blockedInput()
		in.ActorID = fmt.Sprintf("agent-%d", i+100)
		otherCls, _, err := c.Screen(ctx, in)
		require.NoError(t, err)

		_, err = overrides.Apply(ctx, staff, domain.OverrideDecision{
			IntakeID:   otherCls.IntakeID,
			Decision:   domain.OverrideDenied,
			ReasonCode: "confirmed_violation",
			Rationale:  "clear replication request",
		})
		require.NoError(t, err)
	}

	// The grant is permanent for its intakeId.
	_, d, err := c.Screen(ctx, blockedInput())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestOverrideValidation(t *testing.T) {
	store := memory.New()
	overrides := intake.NewOverrides(syncSink{store: store}, zap.NewNop(), 10)
	ctx := context.Background()
	staff := domain.Principal{ID: "reviewer-1", Role: domain.RoleStaff}

	d, err := overrides.Apply(ctx, staff, domain.OverrideDecision{
		Decision: domain.OverrideGranted, ReasonCode: "false_positive", Rationale: "long enough text",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInvalidRequest, d.ReasonCode)

	d, err = overrides.Apply(ctx, staff, domain.OverrideDecision{
		IntakeID: "x", Decision: domain.OverrideGranted, ReasonCode: "confirmed_violation", Rationale: "long enough text",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInvalidRequest, d.ReasonCode)

	d, err = overrides.Apply(ctx, staff, domain.OverrideDecision{
		IntakeID: "x", Decision: domain.OverrideGranted, ReasonCode: "false_positive", Rationale: "short",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonRationaleTooShort, d.ReasonCode)
}

func TestReviewQueueProjection(t *testing.T) {
	store := memory.New()
	c := newTestClassifier(store)
	overrides := intake.NewOverrides(syncSink{store: store}, zap.NewNop(), 10)
	ctx := context.Background()

	first, _, err := c.Screen(ctx, blockedInput())
	require.NoError(t, err)

	second := blockedInput()
	second.Rationale = "The customer mentioned self-harm in the ticket"
	secondCls, _, err := c.Screen(ctx, second)
	require.NoError(t, err)

	_, err = overrides.Apply(ctx, domain.Principal{ID: "reviewer-1", Role: domain.RoleStaff}, domain.OverrideDecision{
		IntakeID:   first.IntakeID,
		Decision:   domain.OverrideDenied,
		ReasonCode: "confirmed_violation",
		Rationale:  "clear replication request",
	})
	require.NoError(t, err)

	items, err := intake.Queue(ctx, store)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Newest activity first: the override is the latest event.
	assert.Equal(t, first.IntakeID, items[0].IntakeID)
	assert.Equal(t, intake.ReviewDenied, items[0].Status)
	assert.Equal(t, "reviewer-1", items[0].DecidedBy)

	assert.Equal(t, secondCls.IntakeID, items[1].IntakeID)
	assert.Equal(t, intake.ReviewPending, items[1].Status)
	assert.Equal(t, domain.IntakeSafety, items[1].Category)
}

func TestReviewQueueKeepsOldPendingItems(t *testing.T) {
	store := memory.New()
	c := newTestClassifier(store)
	ctx := context.Background()

	first, _, err := c.Screen(ctx, blockedInput())
	require.NoError(t, err)

	// Each later blocked intent appends two intake events. 260 of them push
	// the first item past any single-query window and across page boundaries.
	for i := 0; i < 260; i++ {
		in := blockedInput()
		in.ActorID = fmt.Sprintf("agent-%d", i+100)
		_, _, err := c.Screen(ctx, in)
		require.NoError(t, err)
	}

	items, err := intake.Queue(ctx, store)
	require.NoError(t, err)
	require.Len(t, items, 261)

	// Oldest activity sorts last and is still pending and findable.
	oldest := items[len(items)-1]
	assert.Equal(t, first.IntakeID, oldest.IntakeID)
	assert.Equal(t, intake.ReviewPending, oldest.Status)
}
