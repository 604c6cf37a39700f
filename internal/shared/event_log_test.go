package shared

import (
	"sync"
	"testing"
)

func TestEventLog_AppendAssignsIncreasingSeq(t *testing.T) {
	l := NewEventLog()

	e1 := l.AppendRetryAttempt("req-1", RetryAttemptEvent{AttemptNumber: 1, Provider: "openai"})
	e2 := l.AppendFallback("req-1", FallbackEvent{FromProvider: "openai", ToProvider: "anthropic"})
	e3 := l.AppendRetryExhaust("req-1", RetryExhaustEvent{TotalAttempts: 2, Resolution: "failed"})

	if e1.Seq != 1 || e2.Seq != 2 || e3.Seq != 3 {
		t.Errorf("expected sequential Seq 1,2,3, got %d,%d,%d", e1.Seq, e2.Seq, e3.Seq)
	}
	if l.Len() != 3 {
		t.Errorf("expected 3 events recorded, got %d", l.Len())
	}
}

func TestEventLog_EventsReturnsIndependentCopy(t *testing.T) {
	l := NewEventLog()
	l.AppendCircuitTransition(CircuitTransitionEvent{Provider: "openai", OldState: "closed", NewState: "open"})

	snapshot := l.Events()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 event in snapshot, got %d", len(snapshot))
	}
	snapshot[0].Type = "tampered"

	if l.Events()[0].Type == "tampered" {
		t.Error("mutating a snapshot should not affect the log's internal state")
	}
}

func TestEventLog_TypedFieldMatchesEventType(t *testing.T) {
	l := NewEventLog()
	l.AppendRetryAttempt("req-2", RetryAttemptEvent{Provider: "anthropic", Retryable: true})

	events := l.Events()
	if events[0].Type != EventRetryAttempt {
		t.Errorf("expected Type=%s, got %s", EventRetryAttempt, events[0].Type)
	}
	if events[0].RetryAttempt == nil || events[0].RetryAttempt.Provider != "anthropic" {
		t.Errorf("expected RetryAttempt to carry the recorded provider, got %+v", events[0].RetryAttempt)
	}
	if events[0].RetryExhaust != nil || events[0].Fallback != nil || events[0].CircuitTransition != nil {
		t.Error("expected only the RetryAttempt field to be set")
	}
}

func TestEventLog_ConcurrentAppendsDoNotRace(t *testing.T) {
	l := NewEventLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AppendRetryAttempt("req-concurrent", RetryAttemptEvent{Provider: "openai"})
		}()
	}
	wg.Wait()

	if l.Len() != 50 {
		t.Errorf("expected 50 events after concurrent appends, got %d", l.Len())
	}
}
