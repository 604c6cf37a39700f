// Package pipeline implements the Generation Pipeline: the per-attempt
// algorithm orchestrating the Circuit Breaker, Provider Semaphore, Token
// Builder, Buffer Manager, Error Router, and Provider Adaptor for one
// request.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/jinzhu/copier"
	"github.com/llmshotgun/llmshotgun/internal/model"
	shared "plandex-shared"
)

// TokenFn receives each Token as the Pipeline yields it, in strict index
// order within an attempt (the index resets across attempts). Returning an
// error aborts the stream early.
type TokenFn func(shared.Token) error

// defaultMaxTokens/defaultRequestTimeoutMs are the undegraded baseline an
// attempt's request starts from before GetRequestModifications scales it
// down for the provider's current DegradationLevel. The first attempt of a
// request (AttemptSeq <= 1) is treated as urgent so QueueNonUrgent never
// blocks a request's initial try.
const (
	defaultMaxTokens        = 4096
	defaultRequestTimeoutMs = 60_000
)

// GenerationError is raised when the fallback list is exhausted after every
// retry.
type GenerationError struct {
	RequestID string
	Summary   string
	LastError *shared.ProviderCallError

	// Report is the diagnostic error report built from LastError when the
	// fallback list was exhausted, for surfacing to an operator (console
	// links, suggested manual actions) rather than just the bare error text.
	Report *shared.ErrorReport

	// AttemptHistory is a snapshot of reqCtx.History at the moment this error
	// was raised, deep-copied so a caller holding this error can't observe
	// later mutation of the (possibly still-live) RequestCtx.
	AttemptHistory []shared.AttemptRecord
}

// RetryPayload is what reportFatal hands the Dead Letter Queue as an item's
// RequestData: enough to reconstruct and re-submit the original
// GenerateTokens call without the caller having to keep its own copy around.
type RetryPayload struct {
	Prompt         string   `json:"prompt"`
	UserID         string   `json:"userId,omitempty"`
	OriginalModels []string `json:"originalModels"`
}

// snapshotHistory deep-copies a RequestCtx's attempt history for attaching
// to a terminal GenerationError.
func snapshotHistory(reqCtx *shared.RequestCtx) []shared.AttemptRecord {
	var dst []shared.AttemptRecord
	if err := copier.Copy(&dst, reqCtx.History); err != nil {
		log.Printf("[Pipeline] snapshotting attempt history for request %s: %v", reqCtx.RequestID, err)
		return nil
	}
	return dst
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for request %s: %s", e.RequestID, e.Summary)
}

func (e *GenerationError) Unwrap() error {
	if e.LastError == nil {
		return nil
	}
	return e.LastError
}

// Pipeline wires the per-request components to the process-wide shared
// ones (Breaker and Semaphore are process-wide singletons; Builder and
// Buffer are created fresh per attempt and owned exclusively by the
// Pipeline for the request's lifetime).
type Pipeline struct {
	Breaker   *model.CircuitBreaker
	Semaphore *model.ProviderSemaphore
	Router    *model.ErrorRouter
	Adaptor   *model.ProviderAdaptor
	Persister model.Persister

	// HealthCheck, Degradation, DLQ, and StreamRecovery are optional: a nil
	// value simply skips that reporting step, so callers that only need the
	// core retry/fallback/abort loop (and every existing test) can omit them.
	HealthCheck    *model.HealthCheckManager
	Degradation    *model.DegradationManager
	DLQ            *model.DeadLetterQueue
	StreamRecovery *model.StreamRecoveryManager
	EventLog       *shared.EventLog

	BatchSize int
	FlushAge  time.Duration
}

// New builds a Pipeline from its component collaborators. BatchSize/FlushAge
// of zero fall back to the Buffer Manager's own defaults (16, 1s).
func New(breaker *model.CircuitBreaker, sem *model.ProviderSemaphore, router *model.ErrorRouter, adaptor *model.ProviderAdaptor, persister model.Persister) *Pipeline {
	return &Pipeline{Breaker: breaker, Semaphore: sem, Router: router, Adaptor: adaptor, Persister: persister}
}

// GenerateTokens is the Pipeline's public contract: a finite, non-restartable
// sequence of Tokens, delivered to onToken as they're produced. prompt is
// sent to ctx.CurrentModel() first, falling back through ctx.FallbackModels
// on failure per the Error Router's decisions.
func (p *Pipeline) GenerateTokens(ctx context.Context, reqCtx *shared.RequestCtx, prompt string, onToken TokenFn) error {
	// reqCtx.FallbackModels is the full ordered model list for this request
	// (the submitted ordered_models); the Pipeline consumes it front-to-back
	// as both the initial choice and every subsequent fallback.
	currentModel, ok := popFallback(reqCtx)
	if !ok {
		return &GenerationError{RequestID: reqCtx.RequestID, Summary: "no model or fallback configured"}
	}

	for {
		callErr, done := p.runAttempt(ctx, reqCtx, currentModel, prompt, onToken)
		if done {
			return nil
		}
		if callErr == nil {
			// Caller's onToken aborted the stream; nothing more to do.
			return nil
		}

		decision := p.Router.HandleError(callErr, reqCtx)
		attemptIdx := len(reqCtx.History) - 1

		switch decision.Action {
		case model.ActionRetry:
			if decision.ShouldCircuitBreak {
				p.Breaker.RecordFailure(callErr.Provider, callErr)
			}
			reqCtx.RecordAttemptFailure(attemptIdx, callErr, decision.RetryDelay, false, "")
			p.logRetryAttempt(reqCtx, currentModel, callErr, decision.RetryDelay)
			if err := sleepCtx(ctx, decision.RetryDelay); err != nil {
				return err
			}
			reqCtx.AttemptSeq++
			continue

		case model.ActionFallback:
			if decision.ShouldCircuitBreak {
				p.Breaker.RecordFailure(callErr.Provider, callErr)
			}
			next, ok := popFallback(reqCtx)
			if !ok {
				report := p.reportFatal(reqCtx, currentModel, prompt, callErr, "failed")
				return &GenerationError{RequestID: reqCtx.RequestID, Summary: reqCtx.Summary(), LastError: callErr, Report: report, AttemptHistory: snapshotHistory(reqCtx)}
			}
			reqCtx.RecordAttemptFailure(attemptIdx, callErr, 0, true, shared.FallbackTypeProvider)
			p.logFallback(reqCtx, currentModel, next, callErr)
			if !decision.ImmediateFallback {
				if err := sleepCtx(ctx, jitterSeconds(1, 3)); err != nil {
					return err
				}
			}
			reqCtx.AttemptSeq++
			currentModel = next
			continue

		case model.ActionAbort:
			reqCtx.RecordAttemptFailure(attemptIdx, callErr, 0, false, "")
			p.reportFatal(reqCtx, currentModel, prompt, callErr, "aborted")
			return callErr

		default:
			reqCtx.RecordAttemptFailure(attemptIdx, callErr, 0, false, "")
			p.reportFatal(reqCtx, currentModel, prompt, callErr, "aborted")
			return callErr
		}
	}
}

// runAttempt executes exactly one (provider, model) attempt. It returns
// (nil, true) on a clean, fully-yielded stream; (classifiedError, false)
// when the attempt failed and the caller must consult the Error Router.
func (p *Pipeline) runAttempt(ctx context.Context, reqCtx *shared.RequestCtx, modelID, prompt string, onToken TokenFn) (*shared.ProviderCallError, bool) {
	provider := p.Adaptor.ModelToProvider(modelID)
	attemptStarted := time.Now()

	attemptCtx := ctx
	maxTokens := 0
	if p.Degradation != nil {
		mods := p.Degradation.GetRequestModifications(provider, defaultMaxTokens, defaultRequestTimeoutMs, reqCtx.AttemptSeq <= 1)
		maxTokens = mods.MaxTokens
		if mods.TimeoutMs > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(mods.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
	}

	// Step 1: consult the Circuit Breaker.
	if !p.Breaker.Allow(provider) {
		callErr := shared.NewProviderDown(provider)
		idx := reqCtx.RecordAttemptStart(provider, modelID)
		reqCtx.RecordAttemptFailure(idx, callErr, 0, false, "")
		p.recordHealth(provider, false, attemptStarted, callErr)
		return callErr, false
	}

	// Step 2: acquire the provider's semaphore, released in step 8 (defer).
	release, err := p.Semaphore.Acquire(ctx, provider)
	if err != nil {
		return &shared.ProviderCallError{Kind: shared.KindTimeout, Provider: provider, Message: "semaphore acquisition canceled", Cause: err}, false
	}
	defer release()

	// Step 3: fresh Builder and Buffer scoped to this attempt.
	builder := model.NewTokenBuilder(reqCtx.RequestID, reqCtx.AttemptSeq, modelID)
	buffer := model.NewBuffer(reqCtx.RequestID, p.BatchSize, p.FlushAge, p.Persister)

	attemptIdx := reqCtx.RecordAttemptStart(provider, modelID)

	sessionID := model.GenerateSessionId(provider, modelID)
	p.startStreamSession(sessionID, provider, modelID)

	var streamErr error
	var aborted error

	// Step 4: stream raw strings, buffering and yielding each Token.
	streamErr = p.Adaptor.StreamRaw(attemptCtx, modelID, prompt, maxTokens, func(raw string) error {
		if err := buffer.WaitReady(ctx); err != nil {
			return err
		}
		tok := builder.Build(raw)
		p.recordStreamChunk(sessionID, raw)
		if err := buffer.Add(ctx, tok); err != nil {
			return err
		}
		if buffer.FlushNeeded() {
			if _, err := buffer.Drain(ctx); err != nil {
				return err
			}
		}
		if err := onToken(tok); err != nil {
			aborted = err
			return err
		}
		return nil
	})

	if aborted != nil {
		// The caller stopped consuming; this is not a provider failure, so
		// nothing is recorded against the breaker. Still flush what's buffered.
		_, _ = buffer.ForceFlush(ctx)
		reqCtx.RecordAttemptFailure(attemptIdx, nil, 0, false, "")
		p.recordAttemptUsage(reqCtx, attemptIdx, modelID, builder.BuiltText())
		p.endStreamSession(sessionID, model.StreamSessionInterrupted, "caller stopped consuming")
		return nil, false
	}

	if streamErr != nil {
		_, _ = buffer.ForceFlush(ctx)
		callErr, ok := streamErr.(*shared.ProviderCallError)
		if !ok {
			callErr = &shared.ProviderCallError{Kind: shared.KindProviderError, Provider: provider, Message: streamErr.Error(), Cause: streamErr}
		}
		p.recordHealth(provider, false, attemptStarted, callErr)
		p.recordAttemptUsage(reqCtx, attemptIdx, modelID, builder.BuiltText())
		p.logRecoveryInfo(reqCtx.RequestID, sessionID)
		p.endStreamSessionWithError(sessionID, callErr)
		return callErr, false
	}

	// Step 5: clean end of stream.
	if _, err := buffer.ForceFlush(ctx); err != nil {
		callErr, ok := err.(*shared.ProviderCallError)
		if !ok {
			callErr = &shared.ProviderCallError{Kind: shared.KindProviderError, Provider: provider, Message: err.Error(), Cause: err}
		}
		p.recordHealth(provider, false, attemptStarted, callErr)
		p.recordAttemptUsage(reqCtx, attemptIdx, modelID, builder.BuiltText())
		p.logRecoveryInfo(reqCtx.RequestID, sessionID)
		p.endStreamSessionWithError(sessionID, callErr)
		return callErr, false
	}
	p.Breaker.RecordSuccess(provider)
	reqCtx.RecordAttemptSuccess(attemptIdx)
	p.recordHealth(provider, true, attemptStarted, nil)
	p.recordAttemptUsage(reqCtx, attemptIdx, modelID, builder.BuiltText())
	p.endStreamSession(sessionID, model.StreamSessionCompleted, "")
	return nil, true
}

// recordAttemptUsage estimates the token count and cost of an attempt's
// full response once its stream has closed (success or failure), and
// attaches it to reqCtx's history — descriptive accounting only, never
// consulted by retry/fallback decisions.
func (p *Pipeline) recordAttemptUsage(reqCtx *shared.RequestCtx, attemptIdx int, modelID, text string) {
	tokens := model.EstimateTokens(modelID, text)
	cost := model.EstimateCost(modelID, tokens)
	reqCtx.RecordAttemptUsage(attemptIdx, tokens, cost)
}

// recordHealth reports one attempt's outcome to the Health Check Manager, a
// no-op when HealthCheck is unset. Latency is measured wall-clock from the
// top of runAttempt, covering semaphore wait and the full stream.
func (p *Pipeline) recordHealth(provider string, success bool, started time.Time, callErr *shared.ProviderCallError) {
	if p.HealthCheck == nil {
		return
	}
	var failure *shared.ProviderFailure
	if callErr != nil {
		failure = callErr.AsProviderFailure()
	}
	p.HealthCheck.RecordRequest(provider, success, time.Since(started).Milliseconds(), failure)
}

// startStreamSession, recordStreamChunk, endStreamSession, and
// endStreamSessionWithError are no-ops when StreamRecovery is unset. They
// mirror one attempt's lifecycle onto the Stream Recovery Manager's session
// bookkeeping, so a client that asks "what did we already receive before
// this attempt died" (e.g. to decide whether a fallback should resume mid-
// answer rather than start over) has something to query mid-stream.
func (p *Pipeline) startStreamSession(sessionID, provider, modelID string) {
	if p.StreamRecovery == nil {
		return
	}
	p.StreamRecovery.StartSession(sessionID, provider, modelID)
}

func (p *Pipeline) recordStreamChunk(sessionID, raw string) {
	if p.StreamRecovery == nil {
		return
	}
	p.StreamRecovery.RecordChunk(sessionID, raw, 1)
}

func (p *Pipeline) endStreamSession(sessionID string, status model.StreamSessionStatus, reason string) {
	if p.StreamRecovery == nil {
		return
	}
	p.StreamRecovery.EndSession(sessionID, status, reason)
}

// logRecoveryInfo logs how much of an attempt's response survived before it
// failed mid-stream, queried just before the session is torn down — the
// fallback or DLQ path that follows only has room for a fresh attempt, not a
// resumed one (no provider here supports that), so this is purely for an
// operator asking "how much did we lose" after the fact.
func (p *Pipeline) logRecoveryInfo(requestID, sessionID string) {
	if p.StreamRecovery == nil {
		return
	}
	info := p.StreamRecovery.GetRecoveryInfo(sessionID)
	if info == nil || info.TokensReceived == 0 {
		return
	}
	log.Printf("[Pipeline] request %s: %d token(s) (%d bytes) received before %s/%s attempt failed, discarded on fallback",
		requestID, info.TokensReceived, len(info.PartialContent), info.Provider, info.Model)
}

func (p *Pipeline) endStreamSessionWithError(sessionID string, err error) {
	if p.StreamRecovery == nil {
		return
	}
	p.StreamRecovery.EndSessionWithError(sessionID, err)
}

// reportFatal is called once a failure can no longer be retried or fallen
// back from: the fallback list is exhausted (GenerationError) or the Error
// Router decided ABORT. It feeds the Degradation Manager (so a provider
// having a bad run throttles itself ahead of the next request) and the Dead
// Letter Queue (so the failed generation is recoverable for inspection or
// replay), skipping either that's unset, then builds and returns a sanitized
// diagnostic report for the caller to attach or log.
func (p *Pipeline) reportFatal(reqCtx *shared.RequestCtx, modelID, prompt string, callErr *shared.ProviderCallError, resolution string) *shared.ErrorReport {
	if callErr == nil {
		return nil
	}
	failure := callErr.AsProviderFailure()

	if p.Degradation != nil && p.HealthCheck != nil {
		health := p.HealthCheck.GetHealth(callErr.Provider)
		errorRate := int((1 - health.SuccessRate) * 100)
		p.Degradation.TriggerFromFailure(failure, errorRate)
	}

	if p.DLQ != nil {
		payload := RetryPayload{Prompt: prompt, UserID: reqCtx.UserID, OriginalModels: reqCtx.OriginalModels}
		p.DLQ.Add("generation", callErr.Provider, modelID, reqCtx.RequestID, payload, failure, len(reqCtx.History))
	}

	stepCtx := &shared.StepContext{
		RequestId:  reqCtx.RequestID,
		AttemptSeq: reqCtx.AttemptSeq,
		EntryType:  shared.EntryTypeModelRequest,
		Phase:      shared.PhaseStreaming,
		Operation:  modelID,
	}
	report := shared.SanitizeError(shared.ErrorReportFromProviderFailure(failure, stepCtx), shared.SanitizeLevelStandard)
	if unrecoverable := shared.DetectUnrecoverableCondition(report); unrecoverable != nil {
		log.Printf("[Pipeline] request %s unrecoverable: %s", reqCtx.RequestID, unrecoverable.FormatCompact())
	} else {
		log.Printf("[Pipeline] request %s failed fatally: %s", reqCtx.RequestID, report.FormatCompact())
	}

	if p.EventLog != nil {
		p.EventLog.AppendRetryExhaust(reqCtx.RequestID, shared.RetryExhaustEvent{
			TotalAttempts: len(reqCtx.History),
			FailureType:   string(callErr.FailureType),
			FinalError:    callErr.Message,
			Provider:      callErr.Provider,
			Model:         modelID,
			Resolution:    resolution,
		})
	}

	return report
}

// logRetryAttempt appends a retry-attempt event, a no-op if EventLog is
// unset.
func (p *Pipeline) logRetryAttempt(reqCtx *shared.RequestCtx, modelID string, callErr *shared.ProviderCallError, delay time.Duration) {
	if p.EventLog == nil {
		return
	}
	p.EventLog.AppendRetryAttempt(reqCtx.RequestID, shared.RetryAttemptEvent{
		AttemptNumber: reqCtx.AttemptSeq,
		FailureType:   string(callErr.FailureType),
		ErrorMessage:  callErr.Message,
		HTTPCode:      callErr.HTTPCode,
		Provider:      callErr.Provider,
		Model:         modelID,
		DelayMs:       delay.Milliseconds(),
		Retryable:     callErr.Retriable(),
	})
}

// logFallback appends a fallback event recording the (provider, model) pair
// this request is moving away from and to, a no-op if EventLog is unset.
func (p *Pipeline) logFallback(reqCtx *shared.RequestCtx, fromModel, toModel string, callErr *shared.ProviderCallError) {
	if p.EventLog == nil {
		return
	}
	p.EventLog.AppendFallback(reqCtx.RequestID, shared.FallbackEvent{
		FromProvider: callErr.Provider,
		ToProvider:   p.Adaptor.ModelToProvider(toModel),
		FromModel:    fromModel,
		ToModel:      toModel,
		FailureType:  string(callErr.FailureType),
		Reason:       callErr.Message,
	})
}

func popFallback(reqCtx *shared.RequestCtx) (string, bool) {
	if len(reqCtx.FallbackModels) == 0 {
		return "", false
	}
	next := reqCtx.FallbackModels[0]
	reqCtx.FallbackModels = reqCtx.FallbackModels[1:]
	return next, true
}

func jitterSeconds(lo, hi float64) time.Duration {
	secs := lo + rand.Float64()*(hi-lo)
	return time.Duration(secs * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
