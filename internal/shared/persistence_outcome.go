package shared

import "fmt"

// =============================================================================
// PERSISTENCE OUTCOME
// =============================================================================
//
// The second sum type Design Notes calls for. persist_batch never panics to
// signal its three possible endings — it returns one of these. Committed and
// Deferred both mean "durable, keep going"; only FatalError propagates as a
// failure to the Buffer Manager.
//
// =============================================================================

// PersistenceOutcomeKind is which of the three endings persist_batch reached.
type PersistenceOutcomeKind string

const (
	// PersistenceCommitted means the batch reached the database.
	PersistenceCommitted PersistenceOutcomeKind = "committed"
	// PersistenceDeferred means the batch is durable in the WAL only; this
	// still counts as success from the Buffer's perspective.
	PersistenceDeferred PersistenceOutcomeKind = "deferred"
	// PersistenceFatalError means both the DB and WAL paths failed.
	PersistenceFatalError PersistenceOutcomeKind = "fatal_error"
)

// PersistenceOutcome is what Persister.PersistBatch returns.
type PersistenceOutcome struct {
	Kind       PersistenceOutcomeKind
	WALFile    string // set when Kind == PersistenceDeferred
	Cause      error  // original DB error that triggered the WAL path, or the fatal cause
}

// Err returns a non-nil error only for PersistenceFatalError, so callers can
// use the outcome directly as a Go error when that's convenient.
func (o PersistenceOutcome) Err() error {
	if o.Kind != PersistenceFatalError {
		return nil
	}
	if o.Cause != nil {
		return fmt.Errorf("persistence error: %w", o.Cause)
	}
	return fmt.Errorf("persistence error: both database and WAL paths failed")
}

// Success reports whether the batch is durable, whichever path it took.
func (o PersistenceOutcome) Success() bool {
	return o.Kind == PersistenceCommitted || o.Kind == PersistenceDeferred
}
