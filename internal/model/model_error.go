package model

import (
	"fmt"
	"log"
	"net/http"
	shared "plandex-shared"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxRetryDelaySeconds caps how long the Error Router will ever honor a
// provider-supplied retry-after hint before treating the error as Fatal
// instead of RateLimit — a delay this long is no better than an abort.
const MaxRetryDelaySeconds = 120

type HTTPError struct {
	StatusCode int
	Body       string
	Header     http.Header
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("status code: %d, body: %s", e.StatusCode, e.Body)
}

// JSON-style  `"retry_after_ms":1234`
var reJSON = regexp.MustCompile(`"retry_after_ms"\s*:\s*(\d+)`)

// Header- or text-style  "Retry-After: 12" / "retry_after: 12s"
var reRetryAfter = regexp.MustCompile(
	`retry[_\-\s]?after[_\-\s]?(?:[:\s]+)?(\d+)(ms|seconds?|secs?|s)?`,
)

// Free-form Azure style  "Try again in 59 seconds."
// Also matches "Retry in 10 seconds."
var reTryAgain = regexp.MustCompile(
	`(?:re)?try[_\-\s]+(?:again[_\-\s]+)?in[_\-\s]+(\d+)(ms|seconds?|secs?|s)?`,
)

// ClassifyErrMsg looks for provider-specific phrases that the generic
// status-code classification in taxonomy.go can't see (context-length
// wording, overloaded wording, cache-control complaints). Returns nil when
// the message carries no such signal, so the caller falls through to
// status-code classification.
func ClassifyErrMsg(provider, msg string) *shared.ProviderCallError {
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "maximum context length") ||
		strings.Contains(lower, "context length exceeded") ||
		strings.Contains(lower, "exceed context limit") ||
		strings.Contains(lower, "decrease input length") ||
		strings.Contains(lower, "too many tokens") ||
		strings.Contains(lower, "payload too large") ||
		strings.Contains(lower, "payload is too large") ||
		strings.Contains(lower, "input is too large") ||
		strings.Contains(lower, "input too large") ||
		strings.Contains(lower, "input is too long") ||
		strings.Contains(lower, "input too long") {
		return &shared.ProviderCallError{
			Kind: shared.KindFatal, Provider: provider, Message: msg,
			FailureType: shared.FailureTypeContextTooLong,
		}
	}

	if strings.Contains(lower, "model_overloaded") ||
		strings.Contains(lower, "model overloaded") ||
		strings.Contains(lower, "server is overloaded") ||
		strings.Contains(lower, "model is currently overloaded") ||
		strings.Contains(lower, "overloaded_error") ||
		strings.Contains(lower, "resource has been exhausted") {
		return &shared.ProviderCallError{
			Kind: shared.KindProviderError, Provider: provider, Message: msg,
			FailureType: shared.FailureTypeOverloaded,
		}
	}

	if strings.Contains(lower, "cache control") {
		return &shared.ProviderCallError{
			Kind: shared.KindProviderError, Provider: provider, Message: msg,
			FailureType: shared.FailureTypeCacheError,
		}
	}

	return nil
}

// ClassifyModelError is the Provider Adaptor's error classifier:
// message-based signals take priority over raw status codes, since a
// 400 wrapping "context length exceeded" is Fatal, not a generic 4xx.
func ClassifyModelError(provider string, code int, message string, headers http.Header, subscriptionMode bool) *shared.ProviderCallError {
	lower := strings.ToLower(message)

	// Claude Max / subscription-seat style 429s mean the seat's quota is
	// exhausted, not that the provider is rate-limiting the API key.
	if subscriptionMode && code == 429 {
		retryAfter := extractRetryAfter(headers, lower)
		if retryAfter > 0 && retryAfter <= MaxRetryDelaySeconds {
			return &shared.ProviderCallError{
				Kind: shared.KindRateLimit, Provider: provider, Message: message,
				HTTPCode: code, RetryAfterSeconds: float64(retryAfter),
				FailureType: shared.FailureTypeQuotaExhausted,
			}
		}
		return &shared.ProviderCallError{
			Kind: shared.KindFatal, Provider: provider, Message: message,
			HTTPCode: code, FailureType: shared.FailureTypeQuotaExhausted,
		}
	}

	if msgRes := ClassifyErrMsg(provider, message); msgRes != nil {
		return msgRes
	}

	res := shared.ClassifyHTTPError(provider, code, message, headers)

	// rare codes that never succeed on retry if they do show up
	if code == 501 || code == 505 {
		res.Kind = shared.KindFatal
	}

	if res.Retriable() {
		retryAfter := extractRetryAfter(headers, lower)
		if retryAfter > MaxRetryDelaySeconds {
			log.Printf("model: retry-after %ds for %s exceeds max delay of %ds, treating as fatal",
				retryAfter, provider, MaxRetryDelaySeconds)
			res.Kind = shared.KindFatal
		} else if retryAfter > 0 {
			res.RetryAfterSeconds = float64(retryAfter)
		}
	}

	return res
}

func extractRetryAfter(h http.Header, body string) (sec int) {
	now := time.Now()

	// Retry-After header: seconds or HTTP-date
	if h != nil {
		if v := h.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
			if t, err := time.Parse(http.TimeFormat, v); err == nil {
				d := int(t.Sub(now).Seconds())
				if d > 0 {
					return d
				}
			}
		}

		// X-RateLimit-Reset epoch
		if v := h.Get("X-RateLimit-Reset"); v != "" {
			if reset, _ := strconv.ParseInt(v, 10, 64); reset > now.Unix() {
				return int(reset - now.Unix())
			}
		}
	}

	lower := strings.ToLower(strings.TrimSpace(body))

	// "retry_after_ms": 1234
	if m := reJSON.FindStringSubmatch(lower); len(m) == 2 {
		n, _ := strconv.Atoi(m[1])
		return n / 1000
	}
	// "retry after 12"
	if m := reRetryAfter.FindStringSubmatch(lower); len(m) >= 2 {
		unit := ""
		if len(m) == 3 {
			unit = m[2]
		}
		return normalizeUnit(m[1], unit)
	}

	// "try again in 8"
	if m := reTryAgain.FindStringSubmatch(lower); len(m) >= 2 {
		unit := ""
		if len(m) == 3 {
			unit = m[2]
		}
		return normalizeUnit(m[1], unit)
	}
	return 0
}

func normalizeUnit(numStr, unit string) int {
	n, _ := strconv.Atoi(numStr) // safe because the regex matched \d+

	switch unit {
	case "ms": // milliseconds
		return n / 1000
	case "sec", "secs", "second", "seconds", "s":
		return n // already in seconds
	default: // unit omitted => assume seconds
		return n
	}
}

// ClassifyErr is the entry point ProviderAdaptor calls on every failed
// request: it extracts an HTTP code/body/headers triple from err when
// possible and runs it through ClassifyModelError, otherwise falls back to
// message-only classification for plain Go errors (context cancellation,
// network failures with no status code attached).
func ClassifyErr(err error, provider string, subscriptionMode bool) *shared.ProviderCallError {
	if httpErr, ok := err.(*HTTPError); ok {
		return ClassifyModelError(provider, httpErr.StatusCode, httpErr.Body, httpErr.Header, subscriptionMode)
	}

	if isNonRetriableBasicErr(err) {
		return &shared.ProviderCallError{
			Kind: shared.KindFatal, Provider: provider, Message: err.Error(), Cause: err,
		}
	}

	if msgRes := ClassifyErrMsg(provider, err.Error()); msgRes != nil {
		msgRes.Cause = err
		return msgRes
	}

	return &shared.ProviderCallError{
		Kind: shared.KindProviderError, Provider: provider, Message: err.Error(), Cause: err,
		FailureType: shared.FailureTypeServerError,
	}
}

func isNonRetriableBasicErr(err error) bool {
	errStr := err.Error()

	if strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "context canceled") {
		return true
	}

	if strings.Contains(errStr, "status code: 400") &&
		strings.Contains(errStr, "reduce the length of the messages") {
		return true
	}

	if strings.Contains(errStr, "status code: 401") {
		return true
	}

	if strings.Contains(errStr, "status code: 429") && strings.Contains(errStr, "exceeded your current quota") {
		return true
	}

	return false
}
