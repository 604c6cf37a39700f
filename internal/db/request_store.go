package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	shared "plandex-shared"
)

// RequestStore owns the llm_requests/llm_attempts side of the schema. The
// Generation Pipeline itself never touches the database directly (it only
// knows about model.Persister for the token log); the HTTP layer records
// request/attempt lifecycle around a GenerateTokens call using this store.
type RequestStore struct {
	db *sql.DB
}

// NewRequestStore wraps a connection already returned by Connect.
func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

// CreateRequest inserts the initial llm_requests row with status "in_progress".
func (s *RequestStore) CreateRequest(ctx context.Context, requestID, prompt string, orderedModels []string, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_requests (request_id, prompt, ordered_models, user_id, status)
		 VALUES ($1, $2, $3, NULLIF($4, ''), 'in_progress')
		 ON CONFLICT (request_id) DO NOTHING`,
		requestID, prompt, pq.Array(orderedModels), userID,
	)
	if err != nil {
		return fmt.Errorf("creating request %s: %w", requestID, err)
	}
	return nil
}

// CompleteRequest sets the terminal status ("succeeded", "failed", or
// "aborted") once GenerateTokens returns.
func (s *RequestStore) CompleteRequest(ctx context.Context, requestID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_requests SET status = $2 WHERE request_id = $1`,
		requestID, status,
	)
	if err != nil {
		return fmt.Errorf("completing request %s: %w", requestID, err)
	}
	return nil
}

// RecordAttempts persists every entry in a RequestCtx's attempt history in
// one transaction, called once GenerateTokens returns. Duplicates (the same
// request_id/attempt_seq recorded twice) are ignored, matching the
// idempotence law that governs the rest of the write path.
func (s *RequestStore) RecordAttempts(ctx context.Context, requestID string, history []shared.AttemptRecord) error {
	if len(history) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning attempt transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO llm_attempts (request_id, attempt_seq, provider, model_id, status, started_at, completed_at, error, tokens_estimated, estimated_cost)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (request_id, attempt_seq) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing attempt insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range history {
		status := "succeeded"
		var errMsg sql.NullString
		if !a.Succeeded {
			status = "failed"
			if a.Error != nil {
				errMsg = sql.NullString{String: a.Error.Message, Valid: true}
			}
		}
		var completedAt sql.NullTime
		if !a.CompletedAt.IsZero() {
			completedAt = sql.NullTime{Time: a.CompletedAt, Valid: true}
		}
		var tokensEstimated sql.NullInt64
		if a.TokensEstimated > 0 {
			tokensEstimated = sql.NullInt64{Int64: int64(a.TokensEstimated), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, requestID, a.AttemptSeq, a.Provider, a.Model, status, a.StartedAt, completedAt, errMsg,
			tokensEstimated, a.EstimatedCost.String()); err != nil {
			return fmt.Errorf("inserting attempt %d for request %s: %w", a.AttemptSeq, requestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing attempt transaction: %w", err)
	}
	return nil
}

// GetAttempts reads back every llm_attempts row for requestID, including the
// estimated cost/usage accounting RecordAttempts wrote alongside them, for
// operator inspection (see cmd/replaytool's "attempts" subcommand).
func (s *RequestStore) GetAttempts(ctx context.Context, requestID string) ([]shared.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, attempt_seq, provider, model_id, status, started_at, completed_at, error, tokens_estimated, estimated_cost
		 FROM llm_attempts WHERE request_id = $1 ORDER BY attempt_seq`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attempts for request %s: %w", requestID, err)
	}
	defer rows.Close()

	var attempts []shared.Attempt
	for rows.Next() {
		var a shared.Attempt
		var status string
		var completedAt sql.NullTime
		var errMsg sql.NullString
		var tokensEstimated sql.NullInt64
		var estimatedCost sql.NullString

		if err := rows.Scan(&a.RequestID, &a.AttemptSeq, &a.Provider, &a.ModelID, &status, &a.StartedAt,
			&completedAt, &errMsg, &tokensEstimated, &estimatedCost); err != nil {
			return nil, fmt.Errorf("scanning attempt row for request %s: %w", requestID, err)
		}

		a.Status = shared.AttemptStatus(status)
		if completedAt.Valid {
			a.CompletedAt = &completedAt.Time
		}
		if errMsg.Valid {
			a.Error = errMsg.String
		}
		if tokensEstimated.Valid {
			a.TokensEstimated = int(tokensEstimated.Int64)
		}
		if estimatedCost.Valid {
			if cost, err := decimal.NewFromString(estimatedCost.String); err == nil {
				a.EstimatedCost = cost
			}
		}

		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempts for request %s: %w", requestID, err)
	}
	return attempts, nil
}
