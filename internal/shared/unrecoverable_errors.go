package shared

import (
	"fmt"
	"strings"
)

// =============================================================================
// UNRECOVERABLE ERROR CLASSIFICATION
// =============================================================================

// UnrecoverableReason identifies why recovery is impossible
type UnrecoverableReason string

const (
	// Provider-related unrecoverable reasons
	UnrecoverableQuotaExhausted   UnrecoverableReason = "quota_exhausted"
	UnrecoverableAuthInvalid      UnrecoverableReason = "auth_invalid"
	UnrecoverablePermissionDenied UnrecoverableReason = "permission_denied"
	UnrecoverableContentPolicy    UnrecoverableReason = "content_policy"
	UnrecoverableModelNotFound    UnrecoverableReason = "model_not_found"
	UnrecoverableContextTooLong   UnrecoverableReason = "context_too_long"

	// Data loss unrecoverable reasons
	UnrecoverableCheckpointLost   UnrecoverableReason = "checkpoint_lost"
	UnrecoverableJournalCorrupted UnrecoverableReason = "journal_corrupted"
	UnrecoverableSnapshotMissing  UnrecoverableReason = "snapshot_missing"
	UnrecoverableFileContentLost  UnrecoverableReason = "file_content_lost"
	UnrecoverableWALCorrupted     UnrecoverableReason = "wal_corrupted"

	// External state unrecoverable reasons
	UnrecoverableExternalModification UnrecoverableReason = "external_modification"
	UnrecoverableConcurrentAccess     UnrecoverableReason = "concurrent_access"
	UnrecoverableResourceDeleted      UnrecoverableReason = "resource_deleted"

	// System-level unrecoverable reasons
	UnrecoverableDiskFull         UnrecoverableReason = "disk_full"
	UnrecoverablePermissionError  UnrecoverableReason = "permission_error"
	UnrecoverableNetworkPartition UnrecoverableReason = "network_partition"
)

// UnrecoverableError represents an error from which automatic recovery is impossible
type UnrecoverableError struct {
	// Reason identifies the specific unrecoverable condition
	Reason UnrecoverableReason `json:"reason"`

	// Category groups related reasons
	Category UnrecoverableCategory `json:"category"`

	// Message is a human-readable description
	Message string `json:"message"`

	// TechnicalDetails provides debugging information
	TechnicalDetails string `json:"technicalDetails,omitempty"`

	// AffectedResources lists what was impacted
	AffectedResources []string `json:"affectedResources,omitempty"`

	// PartialRecoveryPossible indicates if some data can be salvaged
	PartialRecoveryPossible bool `json:"partialRecoveryPossible"`

	// PartialRecoverySteps describes what can be recovered
	PartialRecoverySteps []string `json:"partialRecoverySteps,omitempty"`

	// UserActions lists required user interventions
	UserActions []UserAction `json:"userActions"`

	// DataLossDescription explains what data was lost (if any)
	DataLossDescription string `json:"dataLossDescription,omitempty"`

	// PreventionAdvice explains how to avoid this in the future
	PreventionAdvice []string `json:"preventionAdvice,omitempty"`
}

// UnrecoverableCategory groups unrecoverable reasons
type UnrecoverableCategory string

const (
	CategoryProviderLimit  UnrecoverableCategory = "provider_limit"
	CategoryAuthentication UnrecoverableCategory = "authentication"
	CategoryDataLoss       UnrecoverableCategory = "data_loss"
	CategoryExternalState  UnrecoverableCategory = "external_state"
	CategorySystemResource UnrecoverableCategory = "system_resource"
)

// UserAction describes what the user must do
type UserAction struct {
	Description string `json:"description"`
	Priority    string `json:"priority"` // critical, high, medium, low
	Command     string `json:"command,omitempty"`
	Link        string `json:"link,omitempty"`
	Automated   bool   `json:"automated"` // Can this be done via CLI?
}

// =============================================================================
// EDGE CASE DEFINITIONS
// =============================================================================

// GetUnrecoverableEdgeCases returns all known unrecoverable scenarios. Four
// data-loss reasons from the originating checkpoint/snapshot system
// (UnrecoverableCheckpointLost, UnrecoverableJournalCorrupted,
// UnrecoverableSnapshotMissing, UnrecoverableFileContentLost) have no
// equivalent here - there are no file checkpoints or snapshots, only a WAL -
// so their consts stay defined for API stability but are deliberately not
// cataloged below; UnrecoverableWALCorrupted replaces them as the one data
// loss condition this system actually has.
func GetUnrecoverableEdgeCases() []UnrecoverableEdgeCase {
	return []UnrecoverableEdgeCase{
		// =================================================================
		// PROVIDER LIMIT EDGE CASES
		// =================================================================
		{
			Reason:      UnrecoverableQuotaExhausted,
			Category:    CategoryProviderLimit,
			Title:       "API Quota Exhausted",
			Description: "The API quota for the account has been exhausted. This is different from rate limiting - the account has reached its spending or usage cap.",
			Scenarios: []string{
				"OpenAI: \"You exceeded your current quota\"",
				"Anthropic: Monthly usage limit reached",
				"Google: Daily quota exhausted",
				"OpenRouter: Insufficient credits",
			},
			WhyUnrecoverable: "No amount of retrying will succeed until the quota is replenished or the billing limit is increased.",
			DataAtRisk:       "None - no data loss occurs, but the request cannot complete on this provider",
			PartialRecovery: &PartialRecoveryOption{
				Possible:    true,
				Description: "The fallback list can carry the request to the next provider",
				Steps: []string{
					"Error Router marks the provider's breaker failure and moves to the next entry in ordered_models",
					"Attempt history records the exhausted attempt for later billing reconciliation",
				},
			},
			UserActions: []UserAction{
				{Description: "Add credits to your account", Priority: "critical", Automated: false},
				{Description: "Increase spending limit in provider console", Priority: "critical", Automated: false},
				{Description: "Add another provider earlier in ordered_models as a standing fallback", Priority: "high", Automated: false},
			},
			Prevention: []string{
				"Monitor usage with provider dashboards",
				"Set up billing alerts",
				"Configure more than one provider in ordered_models",
			},
		},
		{
			Reason:      UnrecoverableContextTooLong,
			Category:    CategoryProviderLimit,
			Title:       "Context Length Exceeded",
			Description: "The combined input (system prompt, conversation history) exceeds the model's maximum context window.",
			Scenarios: []string{
				"Long conversation history accumulated across many requests",
				"A single very large prompt submitted directly",
				"A fallback model earlier in ordered_models has a smaller context window than the one the prompt was sized for",
			},
			WhyUnrecoverable: "The model physically cannot process more tokens than its context window allows. No retry strategy will help.",
			DataAtRisk:       "None - the attempt never started streaming",
			PartialRecovery: &PartialRecoveryOption{
				Possible:    true,
				Description: "Reduce the input and retry, or fall back to a larger-context model",
				Steps: []string{
					"Trim unnecessary history from the request",
					"Summarize long conversation history client-side",
					"Reorder ordered_models so a larger-context model is tried next",
				},
			},
			UserActions: []UserAction{
				{Description: "Trim the prompt or conversation history before retrying", Priority: "high", Automated: false},
				{Description: "Add a larger-context model to ordered_models (e.g. gpt-4-turbo, claude-3-opus)", Priority: "medium", Automated: false},
			},
			Prevention: []string{
				"Track estimated token count (see EstimateTokens) before submitting",
				"Cap conversation history length client-side",
				"Order ordered_models with context window size in mind",
			},
		},
		{
			Reason:      UnrecoverableContentPolicy,
			Category:    CategoryProviderLimit,
			Title:       "Content Policy Violation",
			Description: "The request was rejected because it violated the provider's content policy.",
			Scenarios: []string{
				"Prompt contains restricted content",
				"Generated output triggered safety filters mid-stream",
				"One provider's stricter content filtering activated where another would have accepted the same prompt",
			},
			WhyUnrecoverable: "The same content will always be rejected by this provider. Retrying identical input will fail identically.",
			DataAtRisk:       "None - request rejected before or during processing",
			PartialRecovery:  nil, // No partial recovery
			UserActions: []UserAction{
				{Description: "Modify the prompt to remove policy-violating content", Priority: "critical", Automated: false},
				{Description: "Review the provider's content policy guidelines", Priority: "high", Automated: false},
			},
			Prevention: []string{
				"Review content policies before using sensitive topics",
				"Use content pre-screening if available",
			},
		},

		// =================================================================
		// AUTHENTICATION EDGE CASES
		// =================================================================
		{
			Reason:      UnrecoverableAuthInvalid,
			Category:    CategoryAuthentication,
			Title:       "Invalid API Credentials",
			Description: "The API key or authentication token is invalid, expired, or revoked.",
			Scenarios: []string{
				"API key was rotated but the server's environment wasn't updated",
				"API key was revoked due to a security incident",
				"Service account credentials invalid",
			},
			WhyUnrecoverable: "Authentication cannot succeed without valid credentials. The system cannot fix credential issues on its own.",
			DataAtRisk:       "None - the in-progress attempt fails cleanly and is recorded as failed; no tokens were streamed",
			PartialRecovery: &PartialRecoveryOption{
				Possible:    true,
				Description: "The fallback list can carry the request to a provider whose credentials are still valid",
				Steps: []string{
					"Error Router marks the provider's breaker failure and moves to the next entry in ordered_models",
					"Resume normal operation on this provider once credentials are fixed and its breaker closes",
				},
			},
			UserActions: []UserAction{
				{Description: "Rotate the provider's API key environment variable and restart the server", Priority: "critical", Automated: false},
				{Description: "Verify the key in the provider's console", Priority: "high", Automated: false},
				{Description: "Check for security notifications from the provider", Priority: "high", Automated: false},
			},
			Prevention: []string{
				"Use environment variables for API keys, never hardcode them",
				"Set up key rotation reminders",
				"Monitor for security alerts",
			},
		},

		// =================================================================
		// DATA LOSS EDGE CASES
		// =================================================================
		{
			Reason:      UnrecoverableWALCorrupted,
			Category:    CategoryDataLoss,
			Title:       "WAL Corrupted / Unparseable Line",
			Description: "The write-ahead log fallback file used to buffer tokens during a database outage contains a line that doesn't parse as valid JSON, so replay can no longer trust anything after it.",
			Scenarios: []string{
				"Process crashed mid-write, leaving a torn JSON line",
				"Disk corruption flipped bytes in the WAL file",
				"The WAL file was edited by hand while the server was stopped",
			},
			WhyUnrecoverable: "Replay processes WAL lines front-to-back to preserve token ordering; once a line fails to parse, anything after it in the file can't be trusted without re-deriving order from elsewhere.",
			DataAtRisk:       "Tokens recorded after the corrupt line sit unread in the quarantined .corrupt file until an operator inspects it by hand",
			PartialRecovery: &PartialRecoveryOption{
				Possible:    true,
				Description: "Everything before the corrupt line already replayed cleanly; only the tail past it is at risk",
				Steps: []string{
					"Inspect the quarantined wal-*.corrupt.<timestamp> file for the salvageable prefix",
					"Hand-repair or discard the corrupt line",
					"Append any recovered lines to a fresh WAL file for the next replay cycle",
				},
			},
			UserActions: []UserAction{
				{Description: "Inspect the quarantined WAL file by hand", Priority: "critical", Automated: false},
				{Description: "Check persistence/replay counters for the failure", Priority: "high", Command: "replaytool status", Automated: true},
				{Description: "Force a replay cycle once the WAL has been repaired", Priority: "medium", Command: "replaytool replay", Automated: true},
			},
			Prevention: []string{
				"Use reliable local storage for WAL_PATH (avoid network filesystems)",
				"Monitor replay failed-cycle counts",
				"Keep WAL rotation size conservative to limit the blast radius of one corrupt file",
			},
		},

		// =================================================================
		// EXTERNAL STATE EDGE CASES
		// =================================================================
		{
			Reason:      UnrecoverableExternalModification,
			Category:    CategoryExternalState,
			Title:       "Provider Configuration Changed Mid-Request",
			Description: "The server's provider configuration (ordered_models, API keys) changed while a request was still working through its fallback list, so its attempt history reflects a mix of old and new configuration.",
			Scenarios: []string{
				"Server redeployed with a new default ordered_models while in-flight requests were retrying",
				"An API key was rotated mid-request, so later attempts authenticate differently than earlier ones",
				"A process restart reset circuit breaker state mid-fallback, masking what had been a real provider outage",
			},
			WhyUnrecoverable: "The system cannot tell whether a later attempt behaved differently because of the provider or because of the configuration change itself; that distinction needs a human reading the attempt history against deployment timestamps.",
			DataAtRisk:       "None directly, but the attempt history for the affected request_id may be misleading taken at face value",
			PartialRecovery: &PartialRecoveryOption{
				Possible:    true,
				Description: "Re-run the request clean against the current configuration",
				Steps: []string{
					"Pull the attempt history via replaytool attempts <request_id>",
					"Compare attempt timestamps against the deployment or key-rotation time",
					"Re-submit with a fresh request_id if the history can't be trusted",
				},
			},
			UserActions: []UserAction{
				{Description: "Review the attempt history against deployment/config-change timestamps", Priority: "critical", Command: "replaytool attempts <request_id>", Automated: true},
				{Description: "Re-run the request against the current configuration", Priority: "high", Automated: false},
			},
			Prevention: []string{
				"Avoid mid-flight config or key rotation during active traffic",
				"Drain in-flight requests before redeploying with a new ordered_models default",
			},
		},
		{
			Reason:      UnrecoverableConcurrentAccess,
			Category:    CategoryExternalState,
			Title:       "Duplicate Request ID In Flight",
			Description: "Two calls carrying the same request_id were submitted concurrently. The idempotent insert means only one llm_requests row exists, but both callers may have observed a different slice of the attempt stream.",
			Scenarios: []string{
				"A client retried a request without waiting for the first call to finish",
				"A load balancer replayed a request to two backend instances",
			},
			WhyUnrecoverable: "request_id is the idempotency key; once two callers are both in flight against it, the system has no way to know which caller's view of the stream should be considered authoritative.",
			DataAtRisk:       "Both sessions' streamed output may diverge from what's ultimately persisted in llm_attempts",
			PartialRecovery: &PartialRecoveryOption{
				Possible:    true,
				Description: "The persisted attempt history is still authoritative even if a caller's own stream view isn't",
				Steps: []string{
					"Check llm_attempts for the request_id to see which attempt actually completed",
					"Treat the persisted record, not either caller's local stream, as ground truth",
				},
			},
			UserActions: []UserAction{
				{Description: "Generate a new request_id for a retried call instead of reusing one still in flight", Priority: "critical", Automated: false},
				{Description: "Check llm_attempts for the request_id to see which attempt actually completed", Priority: "high", Command: "replaytool attempts <request_id>", Automated: true},
			},
			Prevention: []string{
				"Generate request_id client-side once per logical attempt, never reuse across retries",
				"Don't fire the same request_id from more than one caller at a time",
			},
		},

		// =================================================================
		// SYSTEM RESOURCE EDGE CASES
		// =================================================================
		{
			Reason:      UnrecoverableDiskFull,
			Category:    CategorySystemResource,
			Title:       "Disk Space Exhausted",
			Description: "The disk backing WAL_PATH is full and the system can no longer append WAL-Lite fallback writes.",
			Scenarios: []string{
				"Extended database outage left the WAL accumulating with nowhere to drain",
				"Unrelated processes on the same volume filled available space",
				"WAL rotation backups (wal-*.bak) were never cleaned up",
			},
			WhyUnrecoverable: "Without disk space, the Persistence seam can't fall back to the WAL at all; a token batch that fails both the database write and the WAL write is lost outright.",
			DataAtRisk:       "Any token batch in flight when the disk filled, plus continued buffering until space is freed",
			PartialRecovery: &PartialRecoveryOption{
				Possible:    true,
				Description: "Free space and let the background replay loop catch up",
				Steps: []string{
					"Free disk space immediately",
					"Confirm WAL writes resume (persistence status counters)",
					"Let the replay loop drain the backlog once the database is reachable again",
				},
			},
			UserActions: []UserAction{
				{Description: "Free disk space", Priority: "critical", Automated: false},
				{Description: "Check current WAL file size", Priority: "high", Command: "replaytool status", Automated: true},
				{Description: "Remove old WAL rotation backups (wal-*.bak) no longer needed for replay", Priority: "medium", Automated: false},
			},
			Prevention: []string{
				"Monitor disk space on the WAL_PATH volume",
				"Alert on WAL file size growth",
				"Use a dedicated volume for WAL/persistence data",
			},
		},
	}
}

// UnrecoverableEdgeCase documents a specific unrecoverable scenario
type UnrecoverableEdgeCase struct {
	Reason           UnrecoverableReason
	Category         UnrecoverableCategory
	Title            string
	Description      string
	Scenarios        []string
	WhyUnrecoverable string
	DataAtRisk       string
	PartialRecovery  *PartialRecoveryOption
	UserActions      []UserAction
	Prevention       []string
}

// PartialRecoveryOption describes what can be salvaged
type PartialRecoveryOption struct {
	Possible    bool
	Description string
	Steps       []string
}

// =============================================================================
// DETECTION AND COMMUNICATION
// =============================================================================

// DetectUnrecoverableCondition checks if an error represents an unrecoverable state
func DetectUnrecoverableCondition(report *ErrorReport) *UnrecoverableError {
	if report == nil || report.RootCause == nil {
		return nil
	}

	// Check provider failures
	if report.RootCause.ProviderFailure != nil {
		return detectProviderUnrecoverable(report.RootCause.ProviderFailure)
	}

	// Check file system errors
	if report.RootCause.Category == ErrorCategoryFileSystem {
		return detectFileSystemUnrecoverable(report)
	}

	// Check WAL corruption reported by the Persistence replay loop
	if report.RootCause.Type == "wal_corrupted" {
		return detectWALUnrecoverable(report)
	}

	return nil
}

func detectWALUnrecoverable(report *ErrorReport) *UnrecoverableError {
	edgeCase := findEdgeCase(UnrecoverableWALCorrupted)
	if edgeCase == nil {
		return nil
	}

	return &UnrecoverableError{
		Reason:                  UnrecoverableWALCorrupted,
		Category:                CategoryDataLoss,
		Message:                 report.RootCause.Message,
		TechnicalDetails:        report.RootCause.OriginalError,
		PartialRecoveryPossible: edgeCase.PartialRecovery != nil && edgeCase.PartialRecovery.Possible,
		PartialRecoverySteps:    getPartialRecoverySteps(edgeCase),
		UserActions:             edgeCase.UserActions,
		PreventionAdvice:        edgeCase.Prevention,
	}
}

func detectProviderUnrecoverable(failure *ProviderFailure) *UnrecoverableError {
	if failure.Category == FailureCategoryRetryable {
		return nil // Retryable failures are recoverable
	}

	var reason UnrecoverableReason
	var category UnrecoverableCategory

	switch failure.Type {
	case FailureTypeQuotaExhausted:
		reason = UnrecoverableQuotaExhausted
		category = CategoryProviderLimit
	case FailureTypeAuthInvalid:
		reason = UnrecoverableAuthInvalid
		category = CategoryAuthentication
	case FailureTypePermissionDenied:
		reason = UnrecoverablePermissionDenied
		category = CategoryAuthentication
	case FailureTypeContentPolicy:
		reason = UnrecoverableContentPolicy
		category = CategoryProviderLimit
	case FailureTypeContextTooLong:
		reason = UnrecoverableContextTooLong
		category = CategoryProviderLimit
	case FailureTypeModelNotFound:
		reason = UnrecoverableModelNotFound
		category = CategoryProviderLimit
	default:
		return nil
	}

	edgeCase := findEdgeCase(reason)
	if edgeCase == nil {
		return nil
	}

	return &UnrecoverableError{
		Reason:                  reason,
		Category:                category,
		Message:                 failure.Message,
		TechnicalDetails:        fmt.Sprintf("HTTP %d from %s", failure.HTTPCode, failure.Provider),
		PartialRecoveryPossible: edgeCase.PartialRecovery != nil && edgeCase.PartialRecovery.Possible,
		PartialRecoverySteps:    getPartialRecoverySteps(edgeCase),
		UserActions:             edgeCase.UserActions,
		PreventionAdvice:        edgeCase.Prevention,
	}
}

func detectFileSystemUnrecoverable(report *ErrorReport) *UnrecoverableError {
	errType := report.RootCause.Type

	switch errType {
	case "disk_full":
		return &UnrecoverableError{
			Reason:                  UnrecoverableDiskFull,
			Category:                CategorySystemResource,
			Message:                 report.RootCause.Message,
			AffectedResources:       []string{report.StepContext.FilePath},
			PartialRecoveryPossible: true,
			PartialRecoverySteps: []string{
				"Free disk space",
				"Retry operation",
			},
			UserActions: []UserAction{
				{Description: "Free disk space immediately", Priority: "critical"},
			},
		}
	case "permission_denied":
		return &UnrecoverableError{
			Reason:                  UnrecoverablePermissionError,
			Category:                CategorySystemResource,
			Message:                 report.RootCause.Message,
			AffectedResources:       []string{report.StepContext.FilePath},
			PartialRecoveryPossible: true,
			PartialRecoverySteps: []string{
				"Fix file permissions",
				"Retry operation",
			},
			UserActions: []UserAction{
				{Description: "Fix file permissions", Priority: "critical", Command: fmt.Sprintf("chmod 644 %s", report.StepContext.FilePath)},
			},
		}
	}

	return nil
}

func findEdgeCase(reason UnrecoverableReason) *UnrecoverableEdgeCase {
	for _, ec := range GetUnrecoverableEdgeCases() {
		if ec.Reason == reason {
			return &ec
		}
	}
	return nil
}

func getPartialRecoverySteps(ec *UnrecoverableEdgeCase) []string {
	if ec.PartialRecovery == nil {
		return nil
	}
	return ec.PartialRecovery.Steps
}

// =============================================================================
// USER COMMUNICATION
// =============================================================================

// FormatUnrecoverableError creates a user-friendly message explaining the unrecoverable state
func (e *UnrecoverableError) Format() string {
	var sb strings.Builder

	sb.WriteString("╔═══════════════════════════════════════════════════════════════════╗\n")
	sb.WriteString("║                    UNRECOVERABLE ERROR                            ║\n")
	sb.WriteString("╚═══════════════════════════════════════════════════════════════════╝\n\n")

	// What happened
	sb.WriteString("▌ WHAT HAPPENED\n")
	sb.WriteString("├─────────────────────────────────────────────────────────────────────\n")
	sb.WriteString(fmt.Sprintf("│ %s\n", e.Message))
	if e.TechnicalDetails != "" {
		sb.WriteString(fmt.Sprintf("│ Technical: %s\n", e.TechnicalDetails))
	}
	sb.WriteString("│\n")

	// Why it can't be auto-recovered
	sb.WriteString("▌ WHY AUTOMATIC RECOVERY IS NOT POSSIBLE\n")
	sb.WriteString("├─────────────────────────────────────────────────────────────────────\n")
	sb.WriteString(fmt.Sprintf("│ Reason: %s\n", e.Reason))
	sb.WriteString(fmt.Sprintf("│ Category: %s\n", e.Category))
	sb.WriteString("│\n")

	// Data at risk
	if e.DataLossDescription != "" {
		sb.WriteString("▌ DATA AT RISK\n")
		sb.WriteString("├─────────────────────────────────────────────────────────────────────\n")
		sb.WriteString(fmt.Sprintf("│ %s\n", e.DataLossDescription))
		if len(e.AffectedResources) > 0 {
			sb.WriteString("│ Affected:\n")
			for _, r := range e.AffectedResources {
				sb.WriteString(fmt.Sprintf("│   • %s\n", r))
			}
		}
		sb.WriteString("│\n")
	}

	// Partial recovery
	if e.PartialRecoveryPossible {
		sb.WriteString("▌ PARTIAL RECOVERY AVAILABLE\n")
		sb.WriteString("├─────────────────────────────────────────────────────────────────────\n")
		sb.WriteString("│ Some recovery is possible:\n")
		for i, step := range e.PartialRecoverySteps {
			sb.WriteString(fmt.Sprintf("│   %d. %s\n", i+1, step))
		}
		sb.WriteString("│\n")
	}

	// Required actions
	sb.WriteString("▌ REQUIRED ACTIONS\n")
	sb.WriteString("├─────────────────────────────────────────────────────────────────────\n")
	for i, action := range e.UserActions {
		priority := strings.ToUpper(action.Priority)
		sb.WriteString(fmt.Sprintf("│ %d. [%s] %s\n", i+1, priority, action.Description))
		if action.Command != "" {
			sb.WriteString(fmt.Sprintf("│    └─ Run: %s\n", action.Command))
		}
		if action.Link != "" {
			sb.WriteString(fmt.Sprintf("│    └─ Visit: %s\n", action.Link))
		}
	}
	sb.WriteString("│\n")

	// Prevention
	if len(e.PreventionAdvice) > 0 {
		sb.WriteString("▌ PREVENTION FOR FUTURE\n")
		sb.WriteString("├─────────────────────────────────────────────────────────────────────\n")
		for _, advice := range e.PreventionAdvice {
			sb.WriteString(fmt.Sprintf("│ • %s\n", advice))
		}
		sb.WriteString("│\n")
	}

	sb.WriteString("═══════════════════════════════════════════════════════════════════════\n")

	return sb.String()
}

// FormatCompact returns a single-line summary
func (e *UnrecoverableError) FormatCompact() string {
	actionCount := len(e.UserActions)
	partial := ""
	if e.PartialRecoveryPossible {
		partial = " (partial recovery possible)"
	}
	return fmt.Sprintf("[UNRECOVERABLE] %s: %s - %d action(s) required%s",
		e.Reason, e.Message, actionCount, partial)
}
