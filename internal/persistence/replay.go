package persistence

import (
	"context"
	"log"
	"sync"
	"time"

	shared "plandex-shared"
)

const (
	defaultReplayInterval = 10 * time.Second
	replayBatchSize       = 16
)

// ReplayService is the background loop that, every 10 seconds,
// if the database is reachable, drains the WAL file into Postgres in
// batches of 16 and truncates the file once every line has replayed clean.
type ReplayService struct {
	wal *WALHandler
	db  *DatabaseOperations

	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	totalAttempts    int
	successfulCycles int
	failedCycles     int
	totalReplayed    int
	lastError        error
}

// NewReplayService wires a WALHandler and DatabaseOperations together.
func NewReplayService(wal *WALHandler, dbOps *DatabaseOperations) *ReplayService {
	return &ReplayService{wal: wal, db: dbOps, interval: defaultReplayInterval}
}

// Start launches the background replay loop. Calling Start twice is a no-op.
func (r *ReplayService) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(loopCtx)
}

// Stop cancels the loop and waits for it to exit.
func (r *ReplayService) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *ReplayService) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce forces a single replay cycle outside the background loop's
// interval, for an operator to trigger manually (e.g. cmd/replaytool) after
// fixing whatever made the database unreachable.
func (r *ReplayService) RunOnce(ctx context.Context) ReplayStatus {
	r.runCycle(ctx)
	return r.Status()
}

func (r *ReplayService) runCycle(ctx context.Context) {
	r.mu.Lock()
	r.totalAttempts++
	r.mu.Unlock()

	if !r.db.TestConnection(ctx) {
		return
	}

	lines, err := r.wal.ReadLines()
	if err != nil {
		r.recordFailure(err)
		return
	}
	if len(lines) == 0 {
		return
	}

	replayed, err := r.replayLines(ctx, lines)
	if err != nil {
		if _, ok := err.(*WALCorruptionError); ok {
			// Strict refusal: quarantine rather than skip or truncate past
			// a bad line, so nothing already-replayed is silently lost and
			// nothing unreadable is silently dropped.
			if _, qErr := r.wal.Quarantine(); qErr != nil {
				log.Printf("[ReplayService] failed to quarantine corrupt WAL: %v", qErr)
			}
			report := shared.NewErrorReport(shared.ErrorCategoryResource, "wal_corrupted", "WAL_CORRUPT", err.Error())
			if unrecoverable := shared.DetectUnrecoverableCondition(report); unrecoverable != nil {
				log.Printf("[ReplayService] %s", unrecoverable.FormatCompact())
			}
		}
		r.recordFailure(err)
		return
	}

	if err := r.wal.Truncate(); err != nil {
		r.recordFailure(err)
		return
	}

	r.mu.Lock()
	r.successfulCycles++
	r.totalReplayed += replayed
	r.mu.Unlock()

	log.Printf("[ReplayService] replayed %d tokens from WAL and truncated the file", replayed)
}

// replayLines parses every WAL line and writes it to Postgres in batches of
// replayBatchSize. A parse failure aborts the whole cycle (see the
// strict-refusal resolution in DESIGN.md); a database failure aborts too,
// leaving the WAL untouched for the next cycle to retry.
func (r *ReplayService) replayLines(ctx context.Context, lines []string) (int, error) {
	replayed := 0
	batch := make([]shared.Token, 0, replayBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.db.PgCopyBatch(ctx, batch); err != nil {
			return err
		}
		replayed += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, line := range lines {
		tok, err := ParseLine(line)
		if err != nil {
			return replayed, err
		}
		batch = append(batch, tok)
		if len(batch) >= replayBatchSize {
			if err := flush(); err != nil {
				return replayed, err
			}
		}
	}
	if err := flush(); err != nil {
		return replayed, err
	}
	return replayed, nil
}

func (r *ReplayService) recordFailure(err error) {
	r.mu.Lock()
	r.failedCycles++
	r.lastError = err
	r.mu.Unlock()
	log.Printf("[ReplayService] replay cycle failed: %v", err)
}

// Status is a point-in-time snapshot for monitoring.
type ReplayStatus struct {
	Running          bool
	TotalAttempts    int
	SuccessfulCycles int
	FailedCycles     int
	TotalReplayed    int
	LastError        error
}

func (r *ReplayService) Status() ReplayStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReplayStatus{
		Running:          r.running,
		TotalAttempts:    r.totalAttempts,
		SuccessfulCycles: r.successfulCycles,
		FailedCycles:     r.failedCycles,
		TotalReplayed:    r.totalReplayed,
		LastError:        r.lastError,
	}
}
