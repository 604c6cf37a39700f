package shared

import (
	"testing"
	"time"
)

func TestNewRequestCtx(t *testing.T) {
	c := NewRequestCtx("req-1", []string{"gpt-4", "gpt-3.5-turbo"})
	if c.AttemptSeq != 1 {
		t.Errorf("attempt_seq should default to 1, got %d", c.AttemptSeq)
	}
	if c.MaxRetries != 3 {
		t.Errorf("max_retries should default to 3, got %d", c.MaxRetries)
	}
	if c.TotalAttempts() != 0 {
		t.Errorf("expected 0 initial attempts, got %d", c.TotalAttempts())
	}
}

func TestRecordAttemptStart_Success_Failure(t *testing.T) {
	c := NewRequestCtx("req-1", []string{"gpt-4"})

	idx := c.RecordAttemptStart("openai", "gpt-4")
	if idx != 0 {
		t.Errorf("first attempt index should be 0, got %d", idx)
	}
	if c.TotalAttempts() != 1 {
		t.Errorf("expected 1 attempt after start, got %d", c.TotalAttempts())
	}

	c.RecordAttemptSuccess(idx)
	if !c.History[idx].Succeeded {
		t.Error("attempt should be marked succeeded")
	}

	c.AttemptSeq = 2
	idx2 := c.RecordAttemptStart("openai", "gpt-4")
	if idx2 != 1 {
		t.Errorf("second attempt index should be 1, got %d", idx2)
	}

	callErr := &ProviderCallError{Kind: KindRateLimit, Provider: "openai", RetryAfterSeconds: 5}
	c.RecordAttemptFailure(idx2, callErr, 5500*time.Millisecond, false, "")

	last := c.History[idx2]
	if last.Succeeded {
		t.Error("second attempt should not be succeeded")
	}
	if last.Error.Kind != KindRateLimit {
		t.Errorf("expected KindRateLimit, got %s", last.Error.Kind)
	}
	if last.DelayMs != 5500 {
		t.Errorf("expected delay 5500ms, got %d", last.DelayMs)
	}
}

func TestSummary(t *testing.T) {
	c := NewRequestCtx("req-1", []string{"gpt-4"})

	if s := c.Summary(); s != "failed after 0 attempt(s) — retries and fallbacks exhausted" {
		t.Errorf("unexpected summary with 0 attempts: %s", s)
	}

	idx := c.RecordAttemptStart("openai", "gpt-4")
	c.RecordAttemptSuccess(idx)
	if s := c.Summary(); s != "succeeded after 1 attempt(s)" {
		t.Errorf("unexpected summary after success: %s", s)
	}
}

func TestRecordAttempt_OutOfBounds(t *testing.T) {
	c := NewRequestCtx("req-1", []string{"gpt-4"})

	// Out-of-bounds index should be a no-op (not panic).
	c.RecordAttemptSuccess(99)
	c.RecordAttemptFailure(-1, nil, 0, false, "")

	if c.TotalAttempts() != 0 {
		t.Errorf("out-of-bounds operations should not add attempts, got %d", c.TotalAttempts())
	}
}

func TestAttemptNumbering(t *testing.T) {
	c := NewRequestCtx("req-1", []string{"gpt-4", "gpt-3.5-turbo", "claude-3-haiku"})

	for i := 0; i < 3; i++ {
		idx := c.RecordAttemptStart("openai", "gpt-4")
		if c.History[idx].AttemptSeq != c.AttemptSeq {
			t.Errorf("attempt %d should carry attempt_seq %d", idx, c.AttemptSeq)
		}
		c.AttemptSeq++
	}
	if c.TotalAttempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", c.TotalAttempts())
	}
}

func TestRecordAttemptFailure_WithFallback(t *testing.T) {
	c := NewRequestCtx("req-1", []string{"gpt-4", "claude-3-haiku"})
	idx := c.RecordAttemptStart("openai", "gpt-4")

	callErr := &ProviderCallError{Kind: KindProviderDown, Provider: "openai"}
	c.RecordAttemptFailure(idx, callErr, 2*time.Second, true, FallbackTypeProvider)

	a := c.History[idx]
	if !a.UsedFallback {
		t.Error("should record UsedFallback=true")
	}
	if a.FallbackType != FallbackTypeProvider {
		t.Errorf("expected FallbackTypeProvider, got %s", a.FallbackType)
	}
}

func TestAttemptTiming(t *testing.T) {
	c := NewRequestCtx("req-1", []string{"gpt-4"})
	idx := c.RecordAttemptStart("openai", "gpt-4")

	time.Sleep(2 * time.Millisecond)
	c.RecordAttemptSuccess(idx)

	a := c.History[idx]
	if a.CompletedAt.Before(a.StartedAt) {
		t.Error("CompletedAt should not precede StartedAt")
	}
}

func TestCurrentModel(t *testing.T) {
	c := NewRequestCtx("req-1", []string{"gpt-4", "claude-3-haiku"})
	if c.CurrentModel() != "gpt-4" {
		t.Errorf("expected first fallback model before any attempt, got %s", c.CurrentModel())
	}
	c.RecordAttemptStart("anthropic", "claude-3-haiku")
	if c.CurrentModel() != "claude-3-haiku" {
		t.Errorf("expected most recent attempt's model, got %s", c.CurrentModel())
	}
}
