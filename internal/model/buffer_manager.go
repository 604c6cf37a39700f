package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	shared "plandex-shared"
)

// =============================================================================
// BUFFER MANAGER
// =============================================================================
//
// Per-request FIFO of Tokens with a three-state machine: IDLE, BUFFER,
// FLUSHING. sync.Cond plays the back-pressure role a condition variable
// usually plays in a producer/consumer queue. drain() is the only place the
// buffer's state actually changes mid-flight — every other method just reads
// it or appends to it under the lock.
//
// =============================================================================

// BufferState is where a Buffer sits in the IDLE/BUFFER/FLUSHING machine.
type BufferState string

const (
	BufferIdle     BufferState = "idle"
	BufferBuffer   BufferState = "buffer"
	BufferFlushing BufferState = "flushing"
)

const (
	DefaultBatchSize = 16
	DefaultFlushAge  = time.Second
)

// Persister is the seam Buffer drains into. It is satisfied by the
// Persistence package's service; defined here so Buffer Manager can be built
// and tested ahead of it.
type Persister interface {
	PersistBatch(ctx context.Context, tokens []shared.Token) shared.PersistenceOutcome
}

// BufferStatus is a point-in-time snapshot for monitoring.
type BufferStatus struct {
	State           BufferState
	BufferedCount   int
	AgeSeconds      float64
	DeferredFlushes int
	TotalFlushed    int
}

// Buffer is the per-request token buffer with IDLE/BUFFER/FLUSHING states.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	requestID  string
	batchSize  int
	flushAge   time.Duration
	persister  Persister

	state          BufferState
	tokens         []shared.Token
	firstTokenTime time.Time

	deferredFlushes int
	totalFlushed    int
}

// NewBuffer creates an IDLE Buffer for one request. batchSize <= 0 or
// flushAge <= 0 fall back to the defaults (16 tokens, 1 second).
func NewBuffer(requestID string, batchSize int, flushAge time.Duration, persister Persister) *Buffer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushAge <= 0 {
		flushAge = DefaultFlushAge
	}
	b := &Buffer{
		requestID: requestID,
		batchSize: batchSize,
		flushAge:  flushAge,
		persister: persister,
		state:     BufferIdle,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Add appends a token, blocking while the buffer is FLUSHING (back-pressure).
// IDLE transitions to BUFFER on the first token, starting the age clock.
func (b *Buffer) Add(ctx context.Context, tok shared.Token) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.state == BufferFlushing {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.waitLocked(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if b.state == BufferIdle {
		b.state = BufferBuffer
		b.firstTokenTime = time.Now()
	}
	b.tokens = append(b.tokens, tok)
	return nil
}

// waitLocked blocks on the condition variable, or until ctx is done,
// whichever comes first. Must be called with b.mu held; re-acquires it
// before returning either way.
func (b *Buffer) waitLocked(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-done:
		}
	}()
	b.cond.Wait()
	close(done)
}

// FlushNeeded reports whether the buffer should drain now: it is in BUFFER
// state and either has reached batch_size or aged past flush_age.
func (b *Buffer) FlushNeeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushNeededLocked()
}

func (b *Buffer) flushNeededLocked() bool {
	if b.state != BufferBuffer {
		return false
	}
	if len(b.tokens) >= b.batchSize {
		return true
	}
	return time.Since(b.firstTokenTime) >= b.flushAge
}

// Drain moves BUFFER -> FLUSHING, persists the frozen batch, then either
// returns to IDLE (Committed or Deferred both count as success) or reverts
// to BUFFER and propagates a FatalError. Drain is a no-op returning
// nil, nil when the buffer is already empty or not in BUFFER state — callers
// that want an unconditional drain should use ForceFlush.
func (b *Buffer) Drain(ctx context.Context) ([]shared.Token, error) {
	b.mu.Lock()
	if b.state != BufferBuffer || len(b.tokens) == 0 {
		b.mu.Unlock()
		return nil, nil
	}
	batch := b.tokens
	b.tokens = nil
	b.state = BufferFlushing
	b.mu.Unlock()

	outcome := b.persister.PersistBatch(ctx, batch)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch outcome.Kind {
	case shared.PersistenceCommitted:
		b.totalFlushed += len(batch)
		b.state = BufferIdle
		b.cond.Broadcast()
		return batch, nil
	case shared.PersistenceDeferred:
		b.totalFlushed += len(batch)
		b.deferredFlushes++
		b.state = BufferIdle
		b.cond.Broadcast()
		return batch, nil
	default:
		// Fatal: the batch was never safely persisted. Put it back at the
		// front of the buffer and return to BUFFER so a later drain can
		// retry it alongside whatever else has accumulated since.
		b.tokens = append(batch, b.tokens...)
		b.state = BufferBuffer
		b.cond.Broadcast()
		return nil, fmt.Errorf("buffer %s: %w", b.requestID, outcome.Err())
	}
}

// ForceFlush drains regardless of FlushNeeded, used at shutdown, request
// completion, and attempt switches. It is a no-op if the buffer is empty or
// already FLUSHING.
func (b *Buffer) ForceFlush(ctx context.Context) ([]shared.Token, error) {
	b.mu.Lock()
	if b.state != BufferBuffer || len(b.tokens) == 0 {
		b.mu.Unlock()
		return nil, nil
	}
	b.mu.Unlock()
	return b.Drain(ctx)
}

// WaitReady blocks while the buffer is FLUSHING, the back-pressure wait
// external callers (not Add) use before doing buffer-adjacent work.
func (b *Buffer) WaitReady(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.state == BufferFlushing {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.waitLocked(ctx)
	}
	return ctx.Err()
}

// Cleanup force-flushes any remaining tokens and wakes all waiters, for use
// during graceful shutdown.
func (b *Buffer) Cleanup(ctx context.Context) error {
	_, err := b.ForceFlush(ctx)
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
	return err
}

// Status returns a snapshot for monitoring.
func (b *Buffer) Status() BufferStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	var age float64
	if b.state == BufferBuffer {
		age = time.Since(b.firstTokenTime).Seconds()
	}
	return BufferStatus{
		State:           b.state,
		BufferedCount:   len(b.tokens),
		AgeSeconds:      age,
		DeferredFlushes: b.deferredFlushes,
		TotalFlushed:    b.totalFlushed,
	}
}
