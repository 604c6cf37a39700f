package model

import (
	"fmt"
	"strings"
	"time"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/shopspring/decimal"
	shared "plandex-shared"
)

// =============================================================================
// TOKEN BUILDER
// =============================================================================
//
// Bound to exactly one (request_id, attempt_seq, model_id). Converts raw
// provider text into shared.Token values with a strictly monotonic index
// starting at 0. Single-use per attempt: a retry or fallback gets a fresh
// Builder and therefore a fresh index space. No I/O.
//
// =============================================================================

// TokenBuilder converts raw streamed text into indexed Tokens for one attempt.
type TokenBuilder struct {
	requestID  string
	attemptSeq int
	modelID    string

	currentIndex     int
	totalTokensBuilt int
	built            strings.Builder
}

// NewTokenBuilder creates a Builder scoped to one attempt.
func NewTokenBuilder(requestID string, attemptSeq int, modelID string) *TokenBuilder {
	return &TokenBuilder{
		requestID:  requestID,
		attemptSeq: attemptSeq,
		modelID:    modelID,
	}
}

// Build converts raw provider text into a Token carrying the next index,
// then advances the index for the following call.
func (b *TokenBuilder) Build(raw string) shared.Token {
	token := shared.Token{
		RequestID:  b.requestID,
		AttemptSeq: b.attemptSeq,
		Index:      b.currentIndex,
		ModelID:    b.modelID,
		Text:       raw,
		Timestamp:  time.Now(),
	}

	b.currentIndex++
	b.totalTokensBuilt++
	b.built.WriteString(raw)

	return token
}

// CurrentIndex returns the index the next Build call will assign.
func (b *TokenBuilder) CurrentIndex() int { return b.currentIndex }

// TotalBuilt returns how many tokens this builder has produced so far.
func (b *TokenBuilder) TotalBuilt() int { return b.totalTokensBuilt }

// BuiltText returns everything Build has accumulated so far, for the
// estimated-usage accounting closed out at attempt end (see EstimateTokens).
func (b *TokenBuilder) BuiltText() string { return b.built.String() }

// ForRetry creates a fresh Builder for a new attempt_seq on the same
// request, with its own index space starting back at 0.
func (b *TokenBuilder) ForRetry(newAttemptSeq int, modelID string) *TokenBuilder {
	return NewTokenBuilder(b.requestID, newAttemptSeq, modelID)
}

// ValidateSequence reports whether tokens carries strictly monotonic indices
// starting at 0 within a single (request_id, attempt_seq).
func ValidateSequence(tokens []shared.Token) error {
	for i, tok := range tokens {
		if tok.Index != i {
			return fmt.Errorf("token sequence violation: expected index %d, got %d", i, tok.Index)
		}
	}
	return nil
}

// =============================================================================
// USAGE ESTIMATION (cost/usage accounting supplement)
// =============================================================================
//
// Providers that don't report usage in their stream leave TokensEstimated
// and EstimatedCost (see shared.AttemptRecord) at zero unless something
// estimates them client-side. EstimateTokens uses tiktoken-go's BPE
// encodings for that estimate; it is necessarily approximate for non-OpenAI
// models, which is why this is descriptive accounting only and never used
// in a retry/fallback invariant.
//
// =============================================================================

var fallbackEncoding = "cl100k_base"

// EstimateTokens counts text's tokens under modelID's encoding, falling back
// to cl100k_base (the encoding behind GPT-3.5/4) for providers tiktoken-go
// doesn't recognize by name.
func EstimateTokens(modelID, text string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return 0
		}
	}
	return len(enc.Encode(text, nil, nil))
}

// perThousandTokenPrice is a deliberately coarse per-model price table
// (USD per 1000 tokens) for descriptive cost accounting, not a billing
// source of truth - provider pricing pages are the authority.
var perThousandTokenPrice = map[string]decimal.Decimal{
	"gpt-4o":          decimal.NewFromFloat(0.005),
	"gpt-4o-mini":     decimal.NewFromFloat(0.00015),
	"gpt-4-turbo":     decimal.NewFromFloat(0.01),
	"claude-3-opus":   decimal.NewFromFloat(0.015),
	"claude-3-sonnet": decimal.NewFromFloat(0.003),
	"claude-3-haiku":  decimal.NewFromFloat(0.00025),
}

var defaultPerThousandTokenPrice = decimal.NewFromFloat(0.002)

// EstimateCost multiplies an estimated token count by modelID's per-1000-
// token price, falling back to defaultPerThousandTokenPrice for models the
// table doesn't name.
func EstimateCost(modelID string, tokens int) decimal.Decimal {
	price, ok := perThousandTokenPrice[modelID]
	if !ok {
		price = defaultPerThousandTokenPrice
	}
	return price.Mul(decimal.NewFromInt(int64(tokens))).Div(decimal.NewFromInt(1000))
}
