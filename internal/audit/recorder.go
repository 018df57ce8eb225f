package audit

/*
recorder.go is the write side of the audit trail.

The runtime sits on the hot path of every governed request, so events are
handed off through a buffered channel and written to the store in batches by
a single worker (size- and ticker-triggered flush). Stop() drains: the input
is locked, the channel is closed, and the worker performs a final flush before
returning, so no event accepted before Stop is lost.

Events that gate later decisions (intake overrides, policy mutations) must be
durable before the call returns; those go through LogSync, which bypasses the
buffer and appends directly.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink is what the rest of the runtime records through.
type Sink interface {
	// Log enqueues an event for batched persistence. Never blocks: on
	// overflow the event is reported via the process logger instead.
	Log(event Event)

	// LogSync persists the event before returning.
	LogSync(ctx context.Context, event Event) error
}

type Recorder struct {
	ch     chan Event
	store  EventStore
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	// mu orders Log against Stop: the channel is closed under the write
	// lock, so no sender can be mid-send when it closes.
	mu     sync.RWMutex
	closed bool
}

type RecorderOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func NewRecorder(store EventStore, logger *zap.Logger, opts RecorderOptions) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 4096
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Recorder{
		ch:            make(chan Event, opts.BufferSize),
		store:         store,
		logger:        logger.With(zap.String("mod", "audit")),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop locks the input and waits for the worker to flush everything it has.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("audit recorder stopped")
}

func (r *Recorder) Log(event Event) {
	stamp(&event)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.logger.Warn("audit event dropped: recorder is stopping",
			zap.String("action", event.Action), zap.String("target", event.Target))
		return
	}

	select {
	case r.ch <- event:
	default:
		// Buffer full. Shed load but leave a durable trace in the process
		// log so the gap is visible.
		r.logger.Error("audit_buffer_overflow",
			zap.String("action", event.Action),
			zap.String("actor_id", event.ActorID),
			zap.String("target", event.Target),
		)
	}
}

func (r *Recorder) LogSync(ctx context.Context, event Event) error {
	stamp(&event)
	return r.store.AppendBatch(ctx, []Event{event})
}

func stamp(e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]Event, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background context: the request contexts that produced these
		// events may be long gone.
		if err := r.store.AppendBatch(context.Background(), batch); err != nil {
			r.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
