package persistence

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	shared "plandex-shared"
)

// Service is the batch persistence algorithm:
//
//	try pg_copy(batch)
//	except (db error) -> wal_write(batch); outcome = Deferred
//	except (wal write also fails) -> outcome = FatalError
//
// It satisfies model.Persister structurally — model.Buffer depends on the
// Persister interface, not on this package, so there is no import cycle.
type Service struct {
	wal    *WALHandler
	dbOps  *DatabaseOperations
	replay *ReplayService

	enableReplayLoop bool

	mu                       sync.Mutex
	totalPersistCalls        int
	successfulDatabaseWrites int
	walFallbackWrites        int
	failedPersists           int
	lastPersistTime          time.Time
}

// NewService wires a Postgres connection and WAL path together. If db is
// nil, every call immediately falls back to the WAL (useful for tests and
// for degraded-mode operation per the Graceful Degradation component).
func NewService(db *sql.DB, walPath string, enableReplayLoop bool) (*Service, error) {
	wal, err := NewWALHandler(walPath)
	if err != nil {
		return nil, err
	}
	dbOps := NewDatabaseOperations(db)
	return &Service{
		wal:              wal,
		dbOps:            dbOps,
		replay:           NewReplayService(wal, dbOps),
		enableReplayLoop: enableReplayLoop,
	}, nil
}

// Start launches the WAL replay loop, if enabled.
func (s *Service) Start(ctx context.Context) {
	if s.enableReplayLoop {
		s.replay.Start(ctx)
		log.Println("[PersistenceService] started with WAL replay loop")
		return
	}
	log.Println("[PersistenceService] started without replay loop")
}

// Stop stops the replay loop gracefully.
func (s *Service) Stop() {
	if s.enableReplayLoop {
		s.replay.Stop()
	}
	log.Println("[PersistenceService] stopped")
}

// PersistBatch implements model.Persister. Empty batches are a no-op
// Committed outcome.
func (s *Service) PersistBatch(ctx context.Context, tokens []shared.Token) shared.PersistenceOutcome {
	if len(tokens) == 0 {
		return shared.PersistenceOutcome{Kind: shared.PersistenceCommitted}
	}

	s.mu.Lock()
	s.totalPersistCalls++
	s.mu.Unlock()

	if s.dbOps.db == nil {
		return s.fallbackToWAL(tokens, nil)
	}

	if err := s.dbOps.PgCopyBatch(ctx, tokens); err != nil {
		if _, fatal := err.(*DiskFullError); fatal {
			s.mu.Lock()
			s.failedPersists++
			s.mu.Unlock()
			log.Printf("[PersistenceService] FATAL: database disk full, cannot persist %d tokens", len(tokens))
			return shared.PersistenceOutcome{Kind: shared.PersistenceFatalError, Cause: err}
		}
		return s.fallbackToWAL(tokens, err)
	}

	s.mu.Lock()
	s.successfulDatabaseWrites++
	s.lastPersistTime = time.Now()
	s.mu.Unlock()

	return shared.PersistenceOutcome{Kind: shared.PersistenceCommitted}
}

func (s *Service) fallbackToWAL(tokens []shared.Token, dbErr error) shared.PersistenceOutcome {
	if err := s.wal.WriteBatch(tokens); err != nil {
		s.mu.Lock()
		s.failedPersists++
		s.mu.Unlock()

		if _, diskFull := err.(*DiskFullError); diskFull {
			log.Printf("[PersistenceService] FATAL: database and WAL both unavailable for %d tokens", len(tokens))
		}
		return shared.PersistenceOutcome{Kind: shared.PersistenceFatalError, Cause: err}
	}

	s.mu.Lock()
	s.walFallbackWrites++
	s.lastPersistTime = time.Now()
	s.mu.Unlock()

	if dbErr != nil {
		log.Printf("[PersistenceService] database unavailable, wrote %d tokens to WAL: %v", len(tokens), dbErr)
	}
	return shared.PersistenceOutcome{Kind: shared.PersistenceDeferred, WALFile: s.wal.path, Cause: dbErr}
}

// Status is a point-in-time snapshot for monitoring/health endpoints.
type ServiceStatus struct {
	TotalPersistCalls        int
	SuccessfulDatabaseWrites int
	WALFallbackWrites        int
	FailedPersists           int
	LastPersistTime          time.Time
	WAL                      WALStatus
	Database                 DatabaseOperationsStatus
	Replay                   ReplayStatus
}

// ForceReplay triggers a single WAL replay cycle immediately, bypassing the
// background loop's interval. Used by the operator tooling (cmd/replaytool)
// to drain the WAL right after restoring database connectivity rather than
// waiting out the next tick.
func (s *Service) ForceReplay(ctx context.Context) ReplayStatus {
	return s.replay.RunOnce(ctx)
}

func (s *Service) Status() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServiceStatus{
		TotalPersistCalls:        s.totalPersistCalls,
		SuccessfulDatabaseWrites: s.successfulDatabaseWrites,
		WALFallbackWrites:        s.walFallbackWrites,
		FailedPersists:           s.failedPersists,
		LastPersistTime:          s.lastPersistTime,
		WAL:                      s.wal.Status(),
		Database:                 s.dbOps.Status(),
		Replay:                   s.replay.Status(),
	}
}
