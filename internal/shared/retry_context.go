package shared

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUEST CONTEXT — structured state carried through one request's attempts
// =============================================================================
//
// RequestCtx is the ctx object threaded through the Generation Pipeline.
// AttemptHistory accumulates what happened on each attempt so a
// GenerationError raised after exhaustion can explain itself without any
// caller having to reconstruct the retry loop.
//
// =============================================================================

// RequestCtx carries the per-request state the Pipeline needs across attempts.
type RequestCtx struct {
	RequestID      string
	UserID         string
	AttemptSeq     int
	MaxRetries     int
	FallbackModels []string

	// OriginalModels is the full ordered_models list as submitted, kept
	// untouched while FallbackModels is consumed front-to-back by
	// popFallback - a fatal failure's DLQ entry needs the original list to
	// describe a retryable request, not whatever's left of FallbackModels.
	OriginalModels []string

	StartedAt time.Time
	History   []AttemptRecord
}

// NewRequestCtx builds a RequestCtx with its defaults: attempt_seq starts at
// 1, max_retries defaults to 3.
func NewRequestCtx(requestID string, fallbackModels []string) *RequestCtx {
	original := make([]string, len(fallbackModels))
	copy(original, fallbackModels)
	return &RequestCtx{
		RequestID:      requestID,
		AttemptSeq:     1,
		MaxRetries:     3,
		FallbackModels: fallbackModels,
		OriginalModels: original,
		StartedAt:      time.Now(),
	}
}

// AttemptRecord captures what happened on a single (request_id, attempt_seq).
type AttemptRecord struct {
	AttemptSeq  int
	Provider    string
	Model       string
	StartedAt   time.Time
	CompletedAt time.Time
	Succeeded   bool
	Error       *ProviderCallError
	DelayMs     int64
	UsedFallback bool
	FallbackType FallbackType

	// TokensEstimated and EstimatedCost are descriptive only — not part of
	// any retry/fallback invariant — set once at attempt close from the
	// built token count and a per-model price table (see
	// internal/model/token_builder.go's EstimateTokens/EstimateCost).
	TokensEstimated int
	EstimatedCost   decimal.Decimal
}

// RecordAttemptStart appends a fresh in-progress record and returns its index.
func (c *RequestCtx) RecordAttemptStart(provider, model string) int {
	c.History = append(c.History, AttemptRecord{
		AttemptSeq: c.AttemptSeq,
		Provider:   provider,
		Model:      model,
		StartedAt:  time.Now(),
	})
	return len(c.History) - 1
}

// RecordAttemptSuccess closes out the attempt at idx as successful.
func (c *RequestCtx) RecordAttemptSuccess(idx int) {
	if idx < 0 || idx >= len(c.History) {
		return
	}
	c.History[idx].Succeeded = true
	c.History[idx].CompletedAt = time.Now()
}

// RecordAttemptUsage attaches the token/cost estimate computed once an
// attempt's stream has closed, success or failure — a partial response
// still consumed tokens and is worth costing out.
func (c *RequestCtx) RecordAttemptUsage(idx int, tokensEstimated int, cost decimal.Decimal) {
	if idx < 0 || idx >= len(c.History) {
		return
	}
	c.History[idx].TokensEstimated = tokensEstimated
	c.History[idx].EstimatedCost = cost
}

// RecordAttemptFailure closes out the attempt at idx as failed, noting the
// delay and fallback decision the Error Router made for it.
func (c *RequestCtx) RecordAttemptFailure(idx int, callErr *ProviderCallError, delay time.Duration, usedFallback bool, fallbackType FallbackType) {
	if idx < 0 || idx >= len(c.History) {
		return
	}
	c.History[idx].Succeeded = false
	c.History[idx].CompletedAt = time.Now()
	c.History[idx].Error = callErr
	c.History[idx].DelayMs = delay.Milliseconds()
	c.History[idx].UsedFallback = usedFallback
	c.History[idx].FallbackType = fallbackType
}

// TotalAttempts returns how many attempts have been recorded so far.
func (c *RequestCtx) TotalAttempts() int { return len(c.History) }

// CurrentModel returns the model used on the most recent attempt, or the
// first fallback model if no attempt has started yet.
func (c *RequestCtx) CurrentModel() string {
	if len(c.History) == 0 {
		if len(c.FallbackModels) > 0 {
			return c.FallbackModels[0]
		}
		return ""
	}
	return c.History[len(c.History)-1].Model
}

// Summary returns a compact human-readable description of the request's
// attempt history, used in logs and in the GenerationError message.
func (c *RequestCtx) Summary() string {
	total := c.TotalAttempts()
	for _, a := range c.History {
		if a.Succeeded {
			return fmt.Sprintf("succeeded after %d attempt(s)", total)
		}
	}
	return fmt.Sprintf("failed after %d attempt(s) — retries and fallbacks exhausted", total)
}
