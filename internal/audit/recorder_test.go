package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureStore struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureStore) AppendBatch(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *captureStore) Query(_ context.Context, f Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRecorderStopDrains(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, zap.NewNop(), RecorderOptions{
		BufferSize:    64,
		BatchSize:     10,
		FlushInterval: time.Hour, // only the drain may flush
	})
	r.Start()

	for i := 0; i < 25; i++ {
		r.Log(Event{Action: ActionProposalCreated, ActorID: "u1"})
	}
	r.Stop()

	assert.Len(t, store.events, 25)
	for _, e := range store.events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestRecorderLogSyncIsImmediate(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, zap.NewNop(), RecorderOptions{FlushInterval: time.Hour})
	r.Start()
	defer r.Stop()

	require.NoError(t, r.LogSync(context.Background(), Event{Action: ActionIntakeOverride, Target: "intake-1"}))

	events, err := store.Query(context.Background(), Filter{ActionPrefix: ActionIntakeOverride})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "intake-1", events[0].Target)
}

func TestRecorderDropsAfterStop(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, zap.NewNop(), RecorderOptions{})
	r.Start()
	r.Stop()

	// Must not panic on a closed channel; the event is shed with a log line.
	r.Log(Event{Action: ActionProposalCreated})
	assert.Empty(t, store.events)
}

func TestRecorderLogRacingStopDoesNotPanic(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, zap.NewNop(), RecorderOptions{BufferSize: 4096})
	r.Start()

	const loggers = 8
	var wg sync.WaitGroup
	for i := 0; i < loggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.Log(Event{Action: ActionProposalCreated, ActorID: "u1"})
			}
		}()
	}

	// Stop while the loggers are still running: events accepted before the
	// close are flushed, the rest are shed, and nothing panics.
	r.Stop()
	wg.Wait()

	assert.LessOrEqual(t, len(store.events), loggers*500)
}
