// Command server is the llmshotgun process: it wires the Circuit Breaker,
// Provider Semaphore, Error Router, Provider Adaptor, Persistence Service,
// and Generation Pipeline together behind a single HTTP endpoint that
// streams tokens as they're produced.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/llmshotgun/llmshotgun/internal/db"
	"github.com/llmshotgun/llmshotgun/internal/model"
	"github.com/llmshotgun/llmshotgun/internal/persistence"
	"github.com/llmshotgun/llmshotgun/internal/pipeline"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	shared "plandex-shared"
)

// providerEnvPrefixes lists every provider ModelToProvider knows about, so
// main can build an OpenAI-compatible client for each one that has an API
// key configured. Providers other than OpenAI itself are expected to sit
// behind an OpenAI-compatible gateway (e.g. LiteLLM) exposed via their
// _BASE_URL override.
var providerEnvPrefixes = []string{"openai", "anthropic", "google_ai", "deepseek", "cohere"}

func buildClients() map[string]*openai.Client {
	clients := make(map[string]*openai.Client)
	for _, provider := range providerEnvPrefixes {
		envPrefix := strings.ToUpper(provider)
		apiKey := os.Getenv(envPrefix + "_API_KEY")
		if apiKey == "" {
			continue
		}
		cfg := openai.DefaultConfig(apiKey)
		if baseURL := os.Getenv(envPrefix + "_BASE_URL"); baseURL != "" {
			cfg.BaseURL = baseURL
		}
		clients[provider] = openai.NewClientWithConfig(cfg)
	}
	return clients
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg := db.LoadConfig()
	sqlDB, err := db.Connect(ctx, dbCfg)
	if err != nil {
		log.Printf("[server] database unavailable at startup, running in WAL-only degraded mode: %v", err)
	} else {
		defer sqlDB.Close()
		if err := db.EnsureSchema(ctx, sqlDB); err != nil {
			log.Fatalf("[server] applying schema: %v", err)
		}
		log.Println("[server] schema ensured")
	}

	walPath := os.Getenv("WAL_PATH")
	persistSvc, err := persistence.NewService(sqlDB, walPath, true)
	if err != nil {
		log.Fatalf("[server] constructing persistence service: %v", err)
	}
	persistSvc.Start(ctx)

	model.InitGlobalCircuitBreaker()
	model.InitGlobalProviderSemaphore()
	model.InitGlobalErrorRouter()
	model.InitGlobalHealthCheckManager()
	model.InitGlobalDegradationManager()
	model.InitGlobalDeadLetterQueue()
	model.InitGlobalStreamRecoveryManager()
	model.GlobalCircuitBreaker.SetTransitionCallback(func(e shared.CircuitTransitionEvent) {
		shared.GlobalEventLog.AppendCircuitTransition(e)
	})
	// A provider recovering to healthy is also evidence its degradation (if
	// any) no longer needs to hold — let the Health Check Manager clear it
	// instead of waiting for TriggerFromFailure's own expiry timer.
	model.GlobalHealthCheckManager.SetHealthChangeCallback(func(provider string, oldStatus, newStatus model.HealthStatus) {
		if newStatus == model.HealthStatusHealthy {
			model.GlobalDegradationManager.RecoverProvider(provider)
		}
	})
	log.Println("[server] initialized circuit breaker, provider semaphore, error router, health check, degradation manager, dead letter queue, stream recovery manager")

	adaptor := model.NewProviderAdaptor(buildClients(), os.Getenv("SUBSCRIPTION_MODE") == "true")
	pl := pipeline.New(
		model.GlobalCircuitBreaker,
		model.GlobalProviderSemaphore,
		model.GlobalErrorRouter,
		adaptor,
		persistSvc,
	)
	pl.HealthCheck = model.GlobalHealthCheckManager
	pl.Degradation = model.GlobalDegradationManager
	pl.DLQ = model.GlobalDeadLetterQueue
	pl.StreamRecovery = model.GlobalStreamRecoveryManager
	pl.EventLog = shared.GlobalEventLog

	var requestStore *db.RequestStore
	if sqlDB != nil {
		requestStore = db.NewRequestStore(sqlDB)
	}

	go runDLQRetryLoop(ctx, model.GlobalDeadLetterQueue, pl)

	srv := newServer(pl, requestStore)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{Addr: addr, Handler: srv}

	go func() {
		log.Printf("[server] listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] listen: %v", err)
		}
	}()

	// Step 1: host signals shutdown (ctx.Done() fires on SIGINT/SIGTERM).
	<-ctx.Done()
	log.Println("[server] shutdown signal received")

	// Step 2: new pipelines are refused at the HTTP layer.
	srv.refuseNewRequests()

	// Step 3: live pipelines are cancelled and drained; each one's
	// force-flush happens inside runAttempt's own guaranteed-release
	// scope, and the semaphore slot it holds is released by its defer.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] forced shutdown after timeout: %v", err)
	}
	srv.wait()

	// Step 4: the replay loop is stopped after at most one in-flight cycle.
	persistSvc.Stop()

	// Step 5: the WAL file and database handle are already released by the
	// deferred sqlDB.Close() above and WALHandler's own per-write Close.
	log.Println("[server] circuit breaker metrics:", model.GlobalCircuitBreaker.GetMetrics())
	log.Println("[server] health check metrics:", model.GlobalHealthCheckManager.GetMetrics())
	log.Println("[server] degradation metrics:", model.GlobalDegradationManager.GetMetrics())
	log.Println("[server] dead letter queue stats:", model.GlobalDeadLetterQueue.GetStats())
	log.Println("[server] persistence status:", persistSvc.Status())
	log.Println("[server] stopped cleanly")
}

// generateServer owns the refuse-new-requests flag and tracks in-flight
// requests so shutdown can wait for them to drain.
type generateServer struct {
	mux *http.ServeMux

	pipeline     *pipeline.Pipeline
	requestStore *db.RequestStore

	mu       sync.Mutex
	draining bool
	inFlight sync.WaitGroup
}

func newServer(pl *pipeline.Pipeline, requestStore *db.RequestStore) *generateServer {
	s := &generateServer{mux: http.NewServeMux(), pipeline: pl, requestStore: requestStore}
	s.mux.HandleFunc("/v1/generate", s.handleGenerate)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/dlq", s.handleDLQList)
	s.mux.HandleFunc("/v1/dlq/metrics", s.handleDLQMetrics)
	s.mux.HandleFunc("/v1/dlq/resolve", s.handleDLQResolve)
	s.mux.HandleFunc("/v1/dlq/discard", s.handleDLQDiscard)
	s.mux.HandleFunc("/v1/streams", s.handleStreams)
	s.mux.HandleFunc("/v1/degradation", s.handleDegradationList)
	s.mux.HandleFunc("/v1/degradation/metrics", s.handleDegradationMetrics)
	s.mux.HandleFunc("/v1/degradation/recover", s.handleDegradationRecover)
	return s
}

// handleDegradationList is cmd/replaytool's "degradation list" backend: the
// active degradations currently in force, global or scoped to one provider.
func (s *generateServer) handleDegradationList(w http.ResponseWriter, r *http.Request) {
	degradations := model.GlobalDegradationManager.GetActiveDegradations()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(degradations)
}

func (s *generateServer) handleDegradationMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(model.GlobalDegradationManager.GetMetrics())
}

type degradationRecoverRequest struct {
	Provider string `json:"provider,omitempty"`
}

// handleDegradationRecover clears the degradation on one named provider, or
// every provider at once when Provider is omitted — the manual override an
// operator reaches for when TriggerFromFailure's automatic expiry hasn't run
// yet but the underlying incident is known to be over.
func (s *generateServer) handleDegradationRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req degradationRecoverRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}
	if req.Provider == "" {
		model.GlobalDegradationManager.RecoverAll()
	} else {
		model.GlobalDegradationManager.RecoverProvider(req.Provider)
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamSessionView is what /v1/streams reports for one active session: the
// same data GetRecoveryInfo would reconstruct after a failure, but queryable
// mid-flight for an operator watching a long-running generation.
type streamSessionView struct {
	SessionID        string `json:"sessionId"`
	TokensReceived   int    `json:"tokensReceived"`
	PartialBytes     int    `json:"partialBytes"`
	LastCheckpointAt string `json:"lastCheckpointAt,omitempty"`
}

func (s *generateServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	recovery := model.GlobalStreamRecoveryManager
	views := make([]streamSessionView, 0)
	for _, id := range recovery.GetActiveSessions() {
		content, tokens := recovery.GetPartialContent(id)
		view := streamSessionView{SessionID: id, TokensReceived: tokens, PartialBytes: len(content)}
		if cp := recovery.GetLastCheckpoint(id); cp != nil {
			view.LastCheckpointAt = cp.Timestamp.Format(time.RFC3339)
		}
		views = append(views, view)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

// handleDLQList is cmd/replaytool's "dlq list" backend: every item currently
// held by the Dead Letter Queue, optionally narrowed to one status via
// ?status=pending|scheduled|processing|resolved|discarded.
func (s *generateServer) handleDLQList(w http.ResponseWriter, r *http.Request) {
	filter := model.DLQFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		s := model.DLQItemStatus(status)
		filter.Status = &s
	}
	items := model.GlobalDeadLetterQueue.List(filter)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (s *generateServer) handleDLQMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(model.GlobalDeadLetterQueue.GetMetrics())
}

type dlqResolveRequest struct {
	Id         string `json:"id"`
	Resolution string `json:"resolution"`
	ResolvedBy string `json:"resolvedBy"`
}

func (s *generateServer) handleDLQResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dlqResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "manual"
	}
	if err := model.GlobalDeadLetterQueue.Resolve(req.Id, req.Resolution, req.ResolvedBy); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type dlqDiscardRequest struct {
	Id     string `json:"id"`
	Reason string `json:"reason"`
}

func (s *generateServer) handleDLQDiscard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dlqDiscardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := model.GlobalDeadLetterQueue.Discard(req.Id, req.Reason); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *generateServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *generateServer) refuseNewRequests() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
}

func (s *generateServer) wait() {
	s.inFlight.Wait()
}

func (s *generateServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type generateRequest struct {
	RequestID      string   `json:"request_id"`
	UserID         string   `json:"user_id,omitempty"`
	Prompt         string   `json:"prompt"`
	Model          string   `json:"model"`
	FallbackModels []string `json:"fallback_models,omitempty"`
}

func (s *generateServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Prompt == "" || req.Model == "" {
		http.Error(w, "model and prompt are required", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	orderedModels := append([]string{req.Model}, req.FallbackModels...)
	reqCtx := shared.NewRequestCtx(req.RequestID, orderedModels)
	reqCtx.UserID = req.UserID

	if s.requestStore != nil {
		if err := s.requestStore.CreateRequest(r.Context(), req.RequestID, req.Prompt, orderedModels, req.UserID); err != nil {
			log.Printf("[server] failed to record request %s: %v", req.RequestID, err)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, canFlush := w.(http.Flusher)

	// A provider heavily degraded has "streaming" in its DisabledFeatures
	// (DefaultDegradationStrategies) — under that condition we still collect
	// every token through the same pipeline, but hold the flush until the
	// whole response is in hand instead of pushing each token the instant it
	// arrives, trading latency for fewer small writes against a provider
	// that's already struggling.
	liveFlush := canFlush
	if s.pipeline.Degradation != nil {
		provider := s.pipeline.Adaptor.ModelToProvider(req.Model)
		liveFlush = liveFlush && s.pipeline.Degradation.IsFeatureEnabled(provider, "streaming")
	}

	genErr := s.pipeline.GenerateTokens(r.Context(), reqCtx, req.Prompt, func(tok shared.Token) error {
		payload, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		if liveFlush {
			flusher.Flush()
		}
		return nil
	})
	if canFlush && !liveFlush {
		flusher.Flush()
	}

	status := "succeeded"
	if genErr != nil {
		status = "failed"
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", genErr.Error())
		if canFlush {
			flusher.Flush()
		}
	}

	if s.requestStore != nil {
		if err := s.requestStore.RecordAttempts(r.Context(), req.RequestID, reqCtx.History); err != nil {
			log.Printf("[server] failed to record attempts for %s: %v", req.RequestID, err)
		}
		if err := s.requestStore.CompleteRequest(r.Context(), req.RequestID, status); err != nil {
			log.Printf("[server] failed to complete request %s: %v", req.RequestID, err)
		}
	}
}

// dlqRetryInterval is how often runDLQRetryLoop polls for items whose
// NextRetryAt has come due.
const dlqRetryInterval = 30 * time.Second

// runDLQRetryLoop is the auto-retry half of the Dead Letter Queue: items
// Add scheduled for auto-retry (DLQConfig.AutoRetryEnabled) surface here once
// their cooling period elapses, get replayed through the same Pipeline that
// originally failed them, and are marked resolved or rescheduled depending on
// the outcome. It runs until ctx is cancelled at shutdown.
func runDLQRetryLoop(ctx context.Context, dlq *model.DeadLetterQueue, pl *pipeline.Pipeline) {
	ticker := time.NewTicker(dlqRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, item := range dlq.GetItemsDueForRetry() {
				retryDLQItem(ctx, dlq, pl, item)
			}
		}
	}
}

// retryDLQItem replays a single dead-lettered generation. It decodes the
// pipeline.RetryPayload reportFatal stored at failure time, so retrying
// doesn't depend on the original HTTP request or its caller still existing.
func retryDLQItem(ctx context.Context, dlq *model.DeadLetterQueue, pl *pipeline.Pipeline, item *model.DeadLetterItem) {
	active, err := dlq.StartRetry(item.Id)
	if err != nil {
		log.Printf("[server] dlq retry %s: %v", item.Id, err)
		return
	}

	var payload pipeline.RetryPayload
	if err := json.Unmarshal(active.RequestData, &payload); err != nil {
		log.Printf("[server] dlq retry %s: decoding stored request data: %v", item.Id, err)
		dlq.CompleteRetry(item.Id, false, fmt.Sprintf("undecodable request data: %v", err))
		return
	}
	if len(payload.OriginalModels) == 0 {
		dlq.CompleteRetry(item.Id, false, "no ordered_models recorded to retry against")
		return
	}

	retryCtx := shared.NewRequestCtx(active.RequestID+"-retry-"+active.Id, payload.OriginalModels)
	retryCtx.UserID = payload.UserID

	genErr := pl.GenerateTokens(ctx, retryCtx, payload.Prompt, func(shared.Token) error { return nil })
	if genErr != nil {
		log.Printf("[server] dlq retry %s failed: %v", item.Id, genErr)
		dlq.CompleteRetry(item.Id, false, genErr.Error())
		return
	}

	log.Printf("[server] dlq retry %s succeeded after %d attempt(s)", item.Id, active.RetryCount)
	dlq.CompleteRetry(item.Id, true, "")
}
