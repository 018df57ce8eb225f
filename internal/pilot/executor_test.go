package pilot

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noteInput(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(NoteRequest{OwnerUID: "owner-1", TenantID: "tenant-1", Body: "delivery confirmed"})
	require.NoError(t, err)
	return raw
}

func TestExecuteReplaysSameKey(t *testing.T) {
	x := NewNoteExecutor(NewMockNoteService(), zap.NewNop())
	ctx := context.Background()
	input := noteInput(t)

	first, err := x.Execute(ctx, "p1", "key-1", input)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.NotEmpty(t, first.ResourcePointer)

	second, err := x.Execute(ctx, "p1", "key-1", input)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ResourcePointer, second.ResourcePointer)
	assert.Equal(t, first.OutputHash, second.OutputHash)

	// A different key is a different effect.
	other, err := x.Execute(ctx, "p2", "key-2", input)
	require.NoError(t, err)
	assert.NotEqual(t, first.ResourcePointer, other.ResourcePointer)
}

func TestExecuteConcurrentSameKeySingleEffect(t *testing.T) {
	x := NewNoteExecutor(NewMockNoteService(), zap.NewNop())
	input := noteInput(t)

	const callers = 16
	results := make([]string, callers)
	replayed := make([]bool, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := x.Execute(context.Background(), "p1", "key-1", input)
			if assert.NoError(t, err) {
				results[i] = res.ResourcePointer
				replayed[i] = res.Replayed
			}
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0], results[i], "every caller must see the same pointer")
	}
	for _, r := range replayed {
		if !r {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one caller performs the effect")
}

func TestExecuteRejectsBadInput(t *testing.T) {
	x := NewNoteExecutor(NewMockNoteService(), zap.NewNop())

	_, err := x.Execute(context.Background(), "p1", "k", []byte(`{"body":""}`))
	assert.Error(t, err)

	_, err = x.DryRun(context.Background(), []byte(`not json`))
	assert.Error(t, err)
}

func TestRollbackReplays(t *testing.T) {
	svc := NewMockNoteService()
	x := NewNoteExecutor(svc, zap.NewNop())
	ctx := context.Background()

	_, err := x.Execute(ctx, "p1", "key-1", noteInput(t))
	require.NoError(t, err)

	first, err := x.Rollback(ctx, "p1", "key-1", "wrong record")
	require.NoError(t, err)
	assert.True(t, first.OK)
	assert.False(t, first.Replayed)
	assert.True(t, svc.Reverted("key-1"))

	second, err := x.Rollback(ctx, "p1", "key-1", "wrong record")
	require.NoError(t, err)
	assert.True(t, second.OK)
	assert.True(t, second.Replayed)
}

func TestDryRunPreview(t *testing.T) {
	x := NewNoteExecutor(NewMockNoteService(), zap.NewNop())

	preview, err := x.DryRun(context.Background(), noteInput(t))
	require.NoError(t, err)
	assert.Contains(t, preview, "owner-1")
}
