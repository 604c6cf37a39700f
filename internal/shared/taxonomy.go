package shared

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// PROVIDER CALL ERROR TAXONOMY
// =============================================================================
//
// ProviderCallError is the sum type Design Notes calls for: every error that
// can come out of a provider stream collapses to exactly one of these five
// kinds before it reaches the Error Router. FailureType (provider_failures.go)
// remains available as a richer sub-classification for logging/sanitizing,
// but routing decisions only ever look at Kind.
//
// =============================================================================

// ProviderCallErrorKind is the coarse category consumed by the Error Router.
type ProviderCallErrorKind string

const (
	KindRateLimit     ProviderCallErrorKind = "rate_limit"
	KindTimeout       ProviderCallErrorKind = "timeout"
	KindProviderError ProviderCallErrorKind = "provider_error"
	KindProviderDown  ProviderCallErrorKind = "provider_down"
	KindFatal         ProviderCallErrorKind = "fatal"
)

// ProviderCallError is the error type ProviderAdaptor.ClassifyError returns.
type ProviderCallError struct {
	Kind              ProviderCallErrorKind
	Provider          string
	Message           string
	HTTPCode          int
	RetryAfterSeconds float64
	FailureType       FailureType
	Cause             error
}

func (e *ProviderCallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Provider, e.Message)
}

func (e *ProviderCallError) Unwrap() error { return e.Cause }

// Retriable reports whether the Error Router can ever retry or fall back on
// this error. Only Fatal is a hard stop: abort, no retry, no fallback.
func (e *ProviderCallError) Retriable() bool {
	return e.Kind != KindFatal
}

// CountsTowardBreaker reports whether this failure should be recorded by the
// Circuit Breaker. Timeout, RateLimit, and transient ProviderError count;
// Fatal and ProviderDown (already a breaker consequence, not a cause) do not.
func (e *ProviderCallError) CountsTowardBreaker() bool {
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindProviderError:
		return true
	default:
		return false
	}
}

// AsProviderFailure adapts a ProviderCallError to the richer ProviderFailure
// shape health_check.go and graceful_degradation.go consume, so the
// Generation Pipeline can report into both without those components needing
// to know about the Kind taxonomy at all.
func (e *ProviderCallError) AsProviderFailure() *ProviderFailure {
	category := FailureCategoryRetryable
	if !e.Retriable() {
		category = FailureCategoryNonRetryable
	}
	return &ProviderFailure{
		Type:              e.FailureType,
		Category:          category,
		HTTPCode:          e.HTTPCode,
		Message:           e.Message,
		Provider:          e.Provider,
		Retryable:         e.Retriable(),
		RetryAfterSeconds: int(e.RetryAfterSeconds),
	}
}

// NewProviderDown builds the error a Circuit Breaker returns when it rejects
// a call outright (breaker OPEN).
func NewProviderDown(provider string) *ProviderCallError {
	return &ProviderCallError{
		Kind:     KindProviderDown,
		Provider: provider,
		Message:  "circuit breaker open",
	}
}

var (
	reRetryAfterSeconds = regexp.MustCompile(`retry[- ]after[:\s]+(\d+(\.\d+)?)`)
	reTryAgainSeconds   = regexp.MustCompile(`try again in (\d+(\.\d+)?)\s*s`)
)

// ClassifyHTTPError is the authoritative provider-error classifier. Priority
// order, first match wins:
//  1. rate-limit indicator (429 or provider-specific string)
//  2. timeout / 504 / deadline
//  3. connection / network / 5xx
//  4. 4xx other than 429, malformed request
//  5. otherwise -> ProviderError (transient, retryable)
func ClassifyHTTPError(provider string, statusCode int, message string, headers http.Header) *ProviderCallError {
	lower := strings.ToLower(message)

	if statusCode == http.StatusTooManyRequests || strings.Contains(lower, "rate limit") {
		return &ProviderCallError{
			Kind:              KindRateLimit,
			Provider:          provider,
			Message:           message,
			HTTPCode:          statusCode,
			RetryAfterSeconds: extractRetryAfter(headers, lower),
			FailureType:       FailureTypeRateLimit,
		}
	}

	if statusCode == http.StatusGatewayTimeout || strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		return &ProviderCallError{
			Kind: KindTimeout, Provider: provider, Message: message, HTTPCode: statusCode,
			FailureType: FailureTypeTimeout,
		}
	}

	if statusCode >= 500 || strings.Contains(lower, "connection") || strings.Contains(lower, "network") || strings.Contains(lower, "socket") {
		return &ProviderCallError{
			Kind: KindProviderError, Provider: provider, Message: message, HTTPCode: statusCode,
			FailureType: FailureTypeServerError,
		}
	}

	if (statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests) ||
		strings.Contains(lower, "invalid") || strings.Contains(lower, "bad request") {
		return &ProviderCallError{
			Kind: KindFatal, Provider: provider, Message: message, HTTPCode: statusCode,
			FailureType: FailureTypeInvalidRequest,
		}
	}

	return &ProviderCallError{
		Kind: KindProviderError, Provider: provider, Message: message, HTTPCode: statusCode,
		FailureType: FailureTypeServerError,
	}
}

func extractRetryAfter(headers http.Header, lowerMsg string) float64 {
	if headers != nil {
		if v := headers.Get("Retry-After"); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				return secs
			}
		}
	}
	if m := reRetryAfterSeconds.FindStringSubmatch(lowerMsg); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return secs
		}
	}
	if m := reTryAgainSeconds.FindStringSubmatch(lowerMsg); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return secs
		}
	}
	return 0
}

// FallbackType describes which kind of fallback was taken.
type FallbackType string

const (
	FallbackTypeError    FallbackType = "error"
	FallbackTypeProvider FallbackType = "provider"
	FallbackTypeContext  FallbackType = "context"
)
