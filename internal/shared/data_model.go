package shared

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATA MODEL
// =============================================================================
//
// The five entities threaded through every component: Token is the atomic
// streamed unit: Request and Attempt are the durable records a Token's
// lifecycle rolls up into, ProviderStatus is the persisted mirror of a
// Circuit Breaker's state, and WALRecord is Token's compact on-disk
// encoding, matching the DB schema and WAL field names.
//
// =============================================================================

// Token is the atomic unit streamed by the Generation Pipeline. The tuple
// (RequestID, AttemptSeq, Index) is a primary key across both the in-memory
// Buffer and every persisted store.
type Token struct {
	RequestID  string
	AttemptSeq int
	Index      int
	ModelID    string
	Text       string
	Timestamp  time.Time
}

// AttemptStatus is the lifecycle state of a single (request_id, attempt_seq).
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptStreaming AttemptStatus = "streaming"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

// Attempt is the durable record of one (provider, model) call within a
// request: created the moment the Pipeline selects a pair, closed when the
// adaptor stream ends or errors.
type Attempt struct {
	RequestID   string
	AttemptSeq  int
	Provider    string
	ModelID     string
	Status      AttemptStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string

	// TokensEstimated and EstimatedCost mirror the same fields on
	// AttemptRecord (retry_context.go), read back from the llm_attempts
	// table rather than computed live.
	TokensEstimated int
	EstimatedCost   decimal.Decimal
}

// RequestStatus is the lifecycle state of a Request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestCompleted RequestStatus = "completed"
	RequestFailed    RequestStatus = "failed"
)

// Request is created at intake and terminal-written by the Pipeline on
// completion or failure.
type Request struct {
	RequestID     string
	Prompt        string
	OrderedModels []string
	UserID        string
	Status        RequestStatus
	CreatedAt     time.Time
}

// ProviderStatus is the persisted mirror of a Circuit Breaker's state for
// one provider, written to the provider_status table for operator visibility
// and restart continuity.
type ProviderStatus struct {
	ProviderName string
	CircuitState CircuitStateName
	FailureCount int
	LastFailure  *time.Time
	LastSuccess  *time.Time
	Enabled      bool
	UpdatedAt    time.Time
}

// CircuitStateName mirrors model.CircuitState as a string so internal/shared
// (which internal/model imports) can describe breaker state without an
// import cycle back to internal/model.
type CircuitStateName string

const (
	CircuitStateClosed   CircuitStateName = "closed"
	CircuitStateOpen     CircuitStateName = "open"
	CircuitStateHalfOpen CircuitStateName = "half_open"
)

// WALRecord is a Token's compact on-disk encoding: one JSON object per
// line, fields r/a/i/m/t/ts mapping to Token's fields in that order. `t` has
// embedded \n and \r replaced with a space at encode time.
type WALRecord struct {
	R  string `json:"r"`
	A  int    `json:"a"`
	I  int    `json:"i"`
	M  string `json:"m"`
	T  string `json:"t"`
	Ts string `json:"ts"`
}

// ToWALRecord encodes a Token as its WAL line representation.
func (t Token) ToWALRecord() WALRecord {
	return WALRecord{
		R:  t.RequestID,
		A:  t.AttemptSeq,
		I:  t.Index,
		M:  t.ModelID,
		T:  sanitizeWALText(t.Text),
		Ts: t.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// ToToken decodes a WAL line back into a Token.
func (w WALRecord) ToToken() (Token, error) {
	ts, err := time.Parse(time.RFC3339Nano, w.Ts)
	if err != nil {
		return Token{}, err
	}
	return Token{
		RequestID:  w.R,
		AttemptSeq: w.A,
		Index:      w.I,
		ModelID:    w.M,
		Text:       w.T,
		Timestamp:  ts,
	}, nil
}

func sanitizeWALText(text string) string {
	out := make([]rune, 0, len(text))
	for _, r := range text {
		if r == '\n' || r == '\r' {
			out = append(out, ' ')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
