package model

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	shared "plandex-shared"
)

// =============================================================================
// ERROR ROUTER
// =============================================================================
//
// Maps a classified ProviderCallError to a retry/fallback/abort decision.
// This is the single place the exact backoff formula
// (1.5^attempt + U(0,1), floored against retry_after for RateLimit) lives;
// RetryPolicy (retry_policy.go) is a different, smaller-scoped concern used
// inside the Provider Adaptor for intra-SDK soft-budget retries.
//
// =============================================================================

// RouteAction is the decision the Generation Pipeline acts on after a
// failed attempt.
type RouteAction string

const (
	ActionRetry    RouteAction = "retry"
	ActionFallback RouteAction = "fallback"
	ActionAbort    RouteAction = "abort"
)

// RouteDecision is what HandleError returns: what to do next, and whether
// the failure should be recorded by the Circuit Breaker.
type RouteDecision struct {
	Action             RouteAction
	RetryDelay         time.Duration
	ShouldCircuitBreak bool
	ImmediateFallback  bool
	Reason             string
}

// ErrorRouter routes classified provider failures to pipeline decisions and
// keeps a running tally of what it decided, for observability.
type ErrorRouter struct {
	mu     sync.Mutex
	stats  map[shared.ProviderCallErrorKind]map[RouteAction]int
	config *shared.RetryConfig
}

// NewErrorRouter builds an ErrorRouter with zeroed statistics for every
// known error kind and action, and a RetryConfig read once from the
// LLMSHOTGUN_MAX_RETRY_* environment variables (see retry_config.go).
func NewErrorRouter() *ErrorRouter {
	er := &ErrorRouter{
		stats:  make(map[shared.ProviderCallErrorKind]map[RouteAction]int),
		config: shared.LoadRetryConfigFromEnv(),
	}
	er.resetStatsLocked()
	return er
}

func (er *ErrorRouter) resetStatsLocked() {
	kinds := []shared.ProviderCallErrorKind{
		shared.KindRateLimit, shared.KindTimeout, shared.KindProviderError,
		shared.KindProviderDown, shared.KindFatal,
	}
	actions := []RouteAction{ActionRetry, ActionFallback, ActionAbort}

	er.stats = make(map[shared.ProviderCallErrorKind]map[RouteAction]int, len(kinds))
	for _, k := range kinds {
		er.stats[k] = make(map[RouteAction]int, len(actions))
		for _, a := range actions {
			er.stats[k][a] = 0
		}
	}
}

// HandleError is the Error Router's key function: it maps a classified
// failure plus the request's attempt/retry state to a decision.
func (er *ErrorRouter) HandleError(callErr *shared.ProviderCallError, ctx *shared.RequestCtx) RouteDecision {
	if callErr == nil {
		return er.record(shared.KindProviderError, RouteDecision{
			Action: ActionAbort, Reason: "nil error passed to router",
		})
	}

	var decision RouteDecision
	switch callErr.Kind {
	case shared.KindRateLimit:
		decision = er.routeRetryable(callErr, ctx, "rate limit")
	case shared.KindTimeout:
		decision = er.routeRetryable(callErr, ctx, "timeout")
	case shared.KindProviderError:
		decision = er.routeRetryable(callErr, ctx, "provider error")
	case shared.KindProviderDown:
		decision = RouteDecision{
			Action:             ActionFallback,
			ShouldCircuitBreak: true,
			ImmediateFallback:  true,
			Reason:             "provider down - circuit breaker open",
		}
	case shared.KindFatal:
		decision = RouteDecision{
			Action:             ActionAbort,
			ShouldCircuitBreak: false,
			Reason:             "fatal error - corrupt request or non-retriable 4xx from provider",
		}
	default:
		decision = er.routeRetryable(callErr, ctx, "unclassified error")
	}

	log.Printf("[ErrorRouter] %s[%s] -> %s (%s)", callErr.Kind, callErr.Provider, decision.Action, decision.Reason)
	return er.record(callErr.Kind, decision)
}

// routeRetryable implements the shared shape of RateLimit/Timeout/
// ProviderError handling: retry with backoff while attempts remain, fall
// back to the next model once max_retries is exhausted. A RateLimit whose
// provider-declared Retry-After exceeds er.config's ceiling is routed
// straight to fallback rather than waited out.
func (er *ErrorRouter) routeRetryable(callErr *shared.ProviderCallError, ctx *shared.RequestCtx, label string) RouteDecision {
	attempt, maxRetries := requestCtxAttemptState(ctx)
	if cap := er.config.EffectiveMaxAttempts(callErr.FailureType); cap > 0 && cap < maxRetries {
		maxRetries = cap
	}

	if attempt >= maxRetries {
		return RouteDecision{
			Action:             ActionFallback,
			ShouldCircuitBreak: true,
			Reason:             fmt.Sprintf("%s - max retries (%d) exceeded", label, maxRetries),
		}
	}

	if callErr.Kind == shared.KindRateLimit && callErr.RetryAfterSeconds > 0 &&
		!er.config.IsProviderRetryAfterAcceptable(int(callErr.RetryAfterSeconds)) {
		return RouteDecision{
			Action:             ActionFallback,
			ShouldCircuitBreak: true,
			ImmediateFallback:  true,
			Reason:             fmt.Sprintf("%s - provider retry-after (%.0fs) exceeds configured ceiling", label, callErr.RetryAfterSeconds),
		}
	}

	strategy := er.config.GetStrategy(callErr.FailureType)
	delay := er.config.ComputeBackoffDelay(strategy, attempt, int(callErr.RetryAfterSeconds))
	if delay <= 0 {
		delay = backoffDelay(attempt)
	}

	return RouteDecision{
		Action:             ActionRetry,
		RetryDelay:         delay,
		ShouldCircuitBreak: true,
		Reason:             fmt.Sprintf("%s, retrying in %s", label, delay.Round(time.Millisecond)),
	}
}

// backoffDelay computes 1.5^attempt + U(0,1) seconds — the fallback used
// when a FailureType has no RetryConfig-backed strategy of its own
// (ShouldRetry false or InitialDelayMs unset).
func backoffDelay(attempt int) time.Duration {
	base := math.Pow(1.5, float64(attempt)) + rand.Float64()
	return time.Duration(base * float64(time.Second))
}

func requestCtxAttemptState(ctx *shared.RequestCtx) (attempt, maxRetries int) {
	if ctx == nil {
		return 0, 3
	}
	return ctx.AttemptSeq, ctx.MaxRetries
}

func (er *ErrorRouter) record(kind shared.ProviderCallErrorKind, decision RouteDecision) RouteDecision {
	er.mu.Lock()
	defer er.mu.Unlock()

	if _, ok := er.stats[kind]; !ok {
		er.stats[kind] = make(map[RouteAction]int)
	}
	er.stats[kind][decision.Action]++
	return decision
}

// GetErrorStatistics returns a snapshot of action counts per error kind.
func (er *ErrorRouter) GetErrorStatistics() map[shared.ProviderCallErrorKind]map[RouteAction]int {
	er.mu.Lock()
	defer er.mu.Unlock()

	out := make(map[shared.ProviderCallErrorKind]map[RouteAction]int, len(er.stats))
	for kind, actions := range er.stats {
		copyActions := make(map[RouteAction]int, len(actions))
		for a, n := range actions {
			copyActions[a] = n
		}
		out[kind] = copyActions
	}
	return out
}

// ResetStatistics zeroes all tracked counters.
func (er *ErrorRouter) ResetStatistics() {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.resetStatsLocked()
}

// GlobalErrorRouter is the process-wide default instance.
var GlobalErrorRouter *ErrorRouter

// InitGlobalErrorRouter initializes the global error router.
func InitGlobalErrorRouter() {
	GlobalErrorRouter = NewErrorRouter()
}
