package model

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	openai "github.com/sashabaranov/go-openai"
	shared "plandex-shared"
)

// =============================================================================
// PROVIDER ADAPTOR
// =============================================================================
//
// Wraps each provider SDK behind one uniform interface yielding raw token
// strings, using a real go-openai streaming call for any OpenAI-compatible
// endpoint (OpenAI itself, plus DeepSeek/Cohere-via-OpenAI-shim
// configurations an operator points at the same client).
//
// =============================================================================

const activeStreamChunkTimeout = 30 * time.Second

// defaultModelProviderMap is the built-in model-id-to-provider table.
// Unknown models default to "openai", logged as a warning.
var defaultModelProviderMap = map[string]string{
	"gpt-4":           "openai",
	"gpt-3.5-turbo":   "openai",
	"gpt-4-turbo":     "openai",
	"gpt-4o":          "openai",
	"claude-3-opus":   "anthropic",
	"claude-3-sonnet": "anthropic",
	"claude-haiku":    "anthropic",
	"claude-3-haiku":  "anthropic",
	"gemini-pro":      "google_ai",
	"gemini-flash":    "google_ai",
	"palm-2":          "google_ai",
	"gemini-1.5-pro":  "google_ai",
	"deepseek-chat":   "deepseek",
	"deepseek-coder":  "deepseek",
	"command-r":       "cohere",
	"command-r-plus":  "cohere",
}

// RawStreamFn receives one raw chunk of provider text as it arrives.
type RawStreamFn func(chunk string) error

// ProviderAdaptor streams raw tokens from a provider SDK behind a uniform
// interface, classifying any error it encounters via ClassifyErr.
type ProviderAdaptor struct {
	clients          map[string]*openai.Client
	modelProviderMap map[string]string
	subscriptionMode bool
}

// NewProviderAdaptor builds an adaptor over one *openai.Client per provider
// composite (e.g. "openai", "deepseek" pointed at its own base URL).
func NewProviderAdaptor(clients map[string]*openai.Client, subscriptionMode bool) *ProviderAdaptor {
	return &ProviderAdaptor{
		clients:          clients,
		modelProviderMap: defaultModelProviderMap,
		subscriptionMode: subscriptionMode,
	}
}

// ModelToProvider maps a model id to its provider name, defaulting to
// "openai" for unrecognized models.
func (a *ProviderAdaptor) ModelToProvider(modelID string) string {
	if provider, ok := a.modelProviderMap[modelID]; ok {
		return provider
	}
	log.Printf("[ProviderAdaptor] unknown model %s, defaulting to provider openai", modelID)
	return "openai"
}

// StreamRaw opens a completion stream for modelID and calls onChunk for each
// raw piece of text received. It returns nil on a clean end-of-stream, or a
// *shared.ProviderCallError classifying whatever went wrong.
//
// Opening the stream can fail below the HTTP layer entirely (DNS, dial,
// TLS) before the provider ever responded with a status code to classify.
// Those transport failures are retried in-place against
// shared.PolicyConnectionError — a soft budget scoped to this one call and
// never visible to the Error Router, which only ever sees a fully
// classified *shared.ProviderCallError and owns every retry/fallback
// decision for those. Once a chunk has reached onChunk the caller has
// already consumed it, so nothing here retries past that point.
// maxTokens overrides the provider's output token cap when > 0, letting a
// caller under graceful degradation (GetRequestModifications) shrink a
// response without touching the prompt itself.
func (a *ProviderAdaptor) StreamRaw(ctx context.Context, modelID, prompt string, maxTokens int, onChunk RawStreamFn) error {
	provider := a.ModelToProvider(modelID)
	client, ok := a.clients[provider]
	if !ok {
		return &shared.ProviderCallError{
			Kind:     shared.KindFatal,
			Provider: provider,
			Message:  fmt.Sprintf("no client configured for provider %s", provider),
		}
	}

	policy := shared.PolicyConnectionError
	for attempt := 0; ; attempt++ {
		sawChunk, transportErr, err := a.streamOnce(ctx, client, provider, modelID, prompt, maxTokens, onChunk)
		if err == nil {
			return nil
		}
		if sawChunk || !transportErr || attempt+1 >= policy.MaxAttempts {
			return err
		}

		delay := policy.CalculateDelay(attempt+1, 0)
		log.Printf("[ProviderAdaptor] transport error opening stream to %s, retry %d/%d in %s: %v",
			provider, attempt+1, policy.MaxAttempts, delay.Round(time.Millisecond), err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
	}
}

// streamOnce runs a single stream attempt. sawChunk reports whether any
// chunk reached onChunk before the attempt ended; transportErr reports
// whether the failure happened opening the stream itself (below the HTTP
// response, so go-openai never classified it as an API error) rather than
// after the provider had already responded.
func (a *ProviderAdaptor) streamOnce(ctx context.Context, client *openai.Client, provider, modelID, prompt string, maxTokens int, onChunk RawStreamFn) (sawChunk bool, transportErr bool, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	stream, err := client.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		_, isAPIErr := err.(*openai.APIError)
		_, isReqErr := err.(*openai.RequestError)
		return false, !isAPIErr && !isReqErr, wrapProviderErr(err, provider, a.subscriptionMode)
	}
	defer stream.Close()

	timer := time.NewTimer(activeStreamChunkTimeout)
	defer timer.Stop()

	for {
		select {
		case <-streamCtx.Done():
			return sawChunk, false, &shared.ProviderCallError{Kind: shared.KindTimeout, Provider: provider, Message: "stream canceled"}
		case <-timer.C:
			return sawChunk, false, &shared.ProviderCallError{Kind: shared.KindTimeout, Provider: provider, Message: "stream timed out due to inactivity"}
		default:
		}

		resp, err := stream.Recv()
		if err == io.EOF {
			return sawChunk, false, nil
		}
		if err != nil {
			return sawChunk, false, wrapProviderErr(err, provider, a.subscriptionMode)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(activeStreamChunkTimeout)

		if len(resp.Choices) == 0 {
			continue
		}
		content := resp.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		sawChunk = true
		if err := onChunk(content); err != nil {
			return sawChunk, false, err
		}
	}
}

// wrapProviderErr classifies whatever go-openai handed back. API-level
// errors carry their own status code and message, which ClassifyModelError
// can use directly; anything else falls through to the generic, message-only
// ClassifyErr path.
func wrapProviderErr(err error, provider string, subscriptionMode bool) *shared.ProviderCallError {
	if apiErr, ok := err.(*openai.APIError); ok {
		return ClassifyModelError(provider, apiErr.HTTPStatusCode, apiErr.Message, nil, subscriptionMode)
	}
	if reqErr, ok := err.(*openai.RequestError); ok {
		return ClassifyModelError(provider, reqErr.HTTPStatusCode, reqErr.Error(), nil, subscriptionMode)
	}

	callErr := ClassifyErr(err, provider, subscriptionMode)
	if callErr.Provider == "" {
		callErr.Provider = provider
	}
	return callErr
}
