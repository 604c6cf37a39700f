package persistence

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	shared "plandex-shared"
)

const maxCopyRetries = 3

// DatabaseOperations wraps the llm_token_log write path: a batched INSERT
// with ON CONFLICT DO NOTHING for idempotence — database/sql has no COPY
// FROM STDIN primitive, so a multi-row INSERT plays that role instead —
// classifying whatever Postgres hands back into retry/ignore/fatal.
type DatabaseOperations struct {
	db *sql.DB

	mu                   sync.Mutex
	totalCopyOperations  int
	totalTokensCopied    int
	totalCopyErrors      int
	totalRetries         int
	lastSuccessfulCopyAt time.Time
}

// NewDatabaseOperations wraps an already-connected *sql.DB.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

// PgCopyBatch writes tokens to llm_token_log, retrying transient failures up
// to maxCopyRetries times with exponential backoff capped at 10s.
func (d *DatabaseOperations) PgCopyBatch(ctx context.Context, tokens []shared.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= maxCopyRetries; attempt++ {
		err := d.execInsert(ctx, tokens)
		if err == nil {
			d.mu.Lock()
			d.totalCopyOperations++
			d.totalTokensCopied += len(tokens)
			d.lastSuccessfulCopyAt = time.Now()
			d.mu.Unlock()
			return nil
		}
		lastErr = err

		retryable, category := classifyCopyError(err)
		if category == categoryUniqueViolation {
			// Already written — ignore, by the idempotence rule on this key.
			return nil
		}
		if category == categoryDiskFull {
			d.mu.Lock()
			d.totalCopyErrors++
			d.mu.Unlock()
			return &DiskFullError{Path: "database", Cause: err}
		}
		if !retryable || attempt == maxCopyRetries {
			break
		}

		d.mu.Lock()
		d.totalRetries++
		d.mu.Unlock()

		delay := time.Duration(1<<uint(attempt+1)) * time.Second
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
		log.Printf("[DatabaseOperations] pg_copy attempt %d failed (%s), retrying in %s: %v",
			attempt+1, category, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &DatabaseUnavailableError{Op: "pg_copy", Cause: ctx.Err()}
		}
	}

	d.mu.Lock()
	d.totalCopyErrors++
	d.mu.Unlock()
	return &DatabaseUnavailableError{Op: "pg_copy", Cause: lastErr}
}

func (d *DatabaseOperations) execInsert(ctx context.Context, tokens []shared.Token) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET synchronous_commit = on"); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO llm_token_log (request_id, attempt_seq, token_index, model_id, token_text, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id, attempt_seq, token_index) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, tok := range tokens {
		if _, err := stmt.ExecContext(ctx, tok.RequestID, tok.AttemptSeq, tok.Index, tok.ModelID, tok.Text, tok.Timestamp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type copyErrorCategory string

const (
	categoryUniqueViolation copyErrorCategory = "unique_violation"
	categoryConnection      copyErrorCategory = "connection_error"
	categoryDiskFull        copyErrorCategory = "disk_full"
	categorySerialization   copyErrorCategory = "serialization_error"
	categoryTimeout         copyErrorCategory = "timeout_error"
	categoryUnknown         copyErrorCategory = "unknown_error"
)

// classifyCopyError returns whether the error is worth retrying and which
// bucket it falls in.
func classifyCopyError(err error) (retryable bool, category copyErrorCategory) {
	lower := strings.ToLower(err.Error())

	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code.Class() {
		case "23": // integrity constraint violation
			if pqErr.Code == "23505" {
				return false, categoryUniqueViolation
			}
		case "08": // connection exception
			return true, categoryConnection
		case "40": // transaction rollback (serialization failure)
			return true, categorySerialization
		case "53": // insufficient resources
			if strings.Contains(lower, "disk") || strings.Contains(lower, "no space") {
				return false, categoryDiskFull
			}
			return true, categoryConnection
		}
	}

	if strings.Contains(lower, "no space left") || strings.Contains(lower, "disk full") ||
		strings.Contains(lower, "insufficient disk space") {
		return false, categoryDiskFull
	}
	if strings.Contains(lower, "timeout") {
		return true, categoryTimeout
	}
	if strings.Contains(lower, "connection") || strings.Contains(lower, "broken pipe") {
		return true, categoryConnection
	}

	log.Printf("[DatabaseOperations] unclassified pg_copy error, retrying conservatively: %v", err)
	return true, categoryUnknown
}

// TestConnection reports whether the database is currently reachable, used
// by the replay loop's db_is_up() check.
func (d *DatabaseOperations) TestConnection(ctx context.Context) bool {
	if d.db == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return d.db.PingContext(pingCtx) == nil
}

// Status is a point-in-time snapshot for monitoring.
type DatabaseOperationsStatus struct {
	TotalCopyOperations  int
	TotalTokensCopied    int
	TotalCopyErrors      int
	TotalRetries         int
	LastSuccessfulCopyAt time.Time
}

func (d *DatabaseOperations) Status() DatabaseOperationsStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DatabaseOperationsStatus{
		TotalCopyOperations:  d.totalCopyOperations,
		TotalTokensCopied:    d.totalTokensCopied,
		TotalCopyErrors:      d.totalCopyErrors,
		TotalRetries:         d.totalRetries,
		LastSuccessfulCopyAt: d.lastSuccessfulCopyAt,
	}
}
