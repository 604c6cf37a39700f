package shared

import (
	"sync"
	"time"
)

// =============================================================================
// EVENT LOG
// =============================================================================
//
// A lean, append-only record of retry/circuit/fallback activity scoped to
// the Generation Pipeline's own concerns. The surrounding plan-checkpoint/
// pause-resume machinery a step-oriented journal would carry (journal
// headers, named checkpoints, skip lists, file-state hashing) has no
// equivalent here - there is no plan or step to check out of, only a
// request - so only the four event shapes themselves are kept, trimmed of
// fields (idempotency keys, partial-response byte offsets) that named a
// concept this domain doesn't have.
//
// =============================================================================

// EventType identifies which of the four event shapes an Event carries.
type EventType string

const (
	EventRetryAttempt      EventType = "retry_attempt"
	EventRetryExhaust      EventType = "retry_exhaust"
	EventCircuitTransition EventType = "circuit_transition"
	EventFallback          EventType = "fallback"
)

// Event is one entry in the log. Exactly one of the typed fields is set,
// matching its Type.
type Event struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId,omitempty"`

	RetryAttempt      *RetryAttemptEvent      `json:"retryAttempt,omitempty"`
	RetryExhaust      *RetryExhaustEvent      `json:"retryExhaust,omitempty"`
	CircuitTransition *CircuitTransitionEvent `json:"circuitTransition,omitempty"`
	Fallback          *FallbackEvent          `json:"fallback,omitempty"`
}

// RetryAttemptEvent captures a single retry of a provider call.
type RetryAttemptEvent struct {
	AttemptNumber int    `json:"attemptNumber"`
	FailureType   string `json:"failureType"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	HTTPCode      int    `json:"httpCode,omitempty"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	DelayMs       int64  `json:"delayMs"`
	Retryable     bool   `json:"retryable"`
}

// RetryExhaustEvent captures the point a request can no longer be retried
// or fallen back from.
type RetryExhaustEvent struct {
	TotalAttempts int    `json:"totalAttempts"`
	FailureType   string `json:"failureType"`
	FinalError    string `json:"finalError"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Resolution    string `json:"resolution"` // "failed" or "aborted"
}

// CircuitTransitionEvent captures a circuit breaker state change.
type CircuitTransitionEvent struct {
	Provider       string `json:"provider"`
	OldState       string `json:"oldState"`
	NewState       string `json:"newState"`
	TriggerReason  string `json:"triggerReason,omitempty"`
	ConsecFailures int    `json:"consecFailures,omitempty"`
}

// FallbackEvent captures a fallback from one (provider, model) to the next.
type FallbackEvent struct {
	FromProvider string `json:"fromProvider"`
	ToProvider   string `json:"toProvider"`
	FromModel    string `json:"fromModel,omitempty"`
	ToModel      string `json:"toModel,omitempty"`
	FailureType  string `json:"failureType,omitempty"`
	Reason       string `json:"reason"`
}

// EventLog is a process-wide, concurrency-safe sink for these four event
// shapes. Unlike RunJournal it owns no execution state of its own (no
// pending/running/completed bookkeeping) - it is purely an ordered record
// for an operator or a future replay tool to read back.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// NewEventLog builds an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) append(requestID string, typ EventType, set func(*Event)) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Event{Seq: len(l.events) + 1, Timestamp: time.Now(), Type: typ, RequestID: requestID}
	set(&e)
	l.events = append(l.events, e)
	return e
}

// AppendRetryAttempt records one retry of a provider call.
func (l *EventLog) AppendRetryAttempt(requestID string, data RetryAttemptEvent) Event {
	return l.append(requestID, EventRetryAttempt, func(e *Event) { e.RetryAttempt = &data })
}

// AppendRetryExhaust records that a request ran out of retries and fallbacks.
func (l *EventLog) AppendRetryExhaust(requestID string, data RetryExhaustEvent) Event {
	return l.append(requestID, EventRetryExhaust, func(e *Event) { e.RetryExhaust = &data })
}

// AppendCircuitTransition records a circuit breaker state change.
func (l *EventLog) AppendCircuitTransition(data CircuitTransitionEvent) Event {
	return l.append("", EventCircuitTransition, func(e *Event) { e.CircuitTransition = &data })
}

// AppendFallback records a fallback from one provider/model to the next.
func (l *EventLog) AppendFallback(requestID string, data FallbackEvent) Event {
	return l.append(requestID, EventFallback, func(e *Event) { e.Fallback = &data })
}

// Events returns a snapshot copy of every event recorded so far.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns how many events have been recorded.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// GlobalEventLog is the process-wide instance cmd/server wires the Circuit
// Breaker and Generation Pipeline into.
var GlobalEventLog = NewEventLog()
