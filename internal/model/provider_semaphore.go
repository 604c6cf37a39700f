package model

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
)

// =============================================================================
// PROVIDER SEMAPHORE
// =============================================================================
//
// Bounds how many in-flight calls a single provider may have at once, so one
// slow or saturated provider can't starve goroutines that belong to other
// providers. Limits are read once at process start — the <PROVIDER>_CONCURRENCY
// env override is not hot-reloaded — and never change for the life of the
// process.
//
// =============================================================================

// DefaultProviderConcurrency is the per-provider limit used when no config
// entry and no env override exist for a provider name.
const DefaultProviderConcurrency = 3

// defaultProviderConcurrencyLimits are the built-in per-provider concurrency
// caps applied before any env override is considered.
var defaultProviderConcurrencyLimits = map[string]int{
	"openai":    5,
	"anthropic": 3,
	"google_ai": 3,
	"deepseek":  3,
	"cohere":    3,
}

// ProviderSemaphore hands out bounded concurrency slots per provider via
// buffered channels used as counting semaphores.
type ProviderSemaphore struct {
	mu     sync.Mutex
	slots  map[string]chan struct{}
	limits map[string]int
}

// NewProviderSemaphore builds a ProviderSemaphore, applying
// <PROVIDER>_CONCURRENCY env overrides over the built-in defaults. The env
// is read exactly once, here, at construction.
func NewProviderSemaphore() *ProviderSemaphore {
	ps := &ProviderSemaphore{
		slots:  make(map[string]chan struct{}),
		limits: make(map[string]int),
	}

	for provider, limit := range defaultProviderConcurrencyLimits {
		ps.configure(provider, limit)
	}

	return ps
}

func (ps *ProviderSemaphore) configure(provider string, defaultLimit int) {
	limit := defaultLimit
	envVar := strings.ToUpper(provider) + "_CONCURRENCY"
	if v := os.Getenv(envVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
			log.Printf("[ProviderSemaphore] %s: using %s=%d override", provider, envVar, n)
		} else {
			log.Printf("[ProviderSemaphore] %s: invalid %s=%q, keeping default %d", provider, envVar, v, defaultLimit)
		}
	}

	ps.limits[provider] = limit
	ps.slots[provider] = make(chan struct{}, limit)
}

// ensureProvider lazily configures a provider that wasn't in the built-in
// default table (still honoring its env override, if set).
func (ps *ProviderSemaphore) ensureProvider(provider string) chan struct{} {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ch, ok := ps.slots[provider]; ok {
		return ch
	}
	ps.configure(provider, DefaultProviderConcurrency)
	return ps.slots[provider]
}

// Acquire blocks until a concurrency slot for provider is available or ctx
// is canceled. The caller must call the returned release func exactly once,
// typically via defer, regardless of how the attempt ends — release happens
// unconditionally.
func (ps *ProviderSemaphore) Acquire(ctx context.Context, provider string) (release func(), err error) {
	slot := ps.ensureProvider(provider)

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

// Limit returns the configured concurrency limit for a provider.
func (ps *ProviderSemaphore) Limit(provider string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if limit, ok := ps.limits[provider]; ok {
		return limit
	}
	return DefaultProviderConcurrency
}

// InUse returns how many slots are currently held for a provider.
func (ps *ProviderSemaphore) InUse(provider string) int {
	ch := ps.ensureProvider(provider)
	return len(ch)
}

// GlobalProviderSemaphore is the process-wide default instance, mirroring
// the GlobalCircuitBreaker convenience singleton.
var GlobalProviderSemaphore *ProviderSemaphore

// InitGlobalProviderSemaphore initializes the global provider semaphore.
func InitGlobalProviderSemaphore() {
	GlobalProviderSemaphore = NewProviderSemaphore()
}
