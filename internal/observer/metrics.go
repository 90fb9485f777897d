package observer

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled atomic.Bool

	webhookLabels = []string{"kind", "workspace_id"}
	// Labels for tracking how a webhook delivery ended
	webhookResultLabels = []string{"kind", "workspace_id", "result", "reason"}

	WebhookEventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_webhook_received_total",
			Help: "Total number of webhook deliveries received, labeled by normalized event kind.",
		},
		webhookLabels,
	)
	WebhookEventsHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_webhook_handled_total",
			Help: "Total number of webhook deliveries handled, labeled by result (processed, ignored, rejected, failed).",
		},
		webhookResultLabels,
	)
	WebhookProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_events_webhook_processing_duration_seconds",
			Help:    "Histogram of webhook processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		webhookLabels,
	)
	StepErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_step_errors_total",
			Help: "Total number of pipeline step failures, labeled by step and disposition.",
		},
		[]string{"step", "disposition", "error_type"},
	)

	LeaseDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_lease_decisions_total",
			Help: "Total number of lease acquisition decisions, labeled by result.",
		},
		[]string{"workspace_id", "backend", "result"},
	)
	LeaseReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_lease_releases_total",
			Help: "Total number of lease releases, labeled by whether a live lease was removed.",
		},
		[]string{"backend", "removed"},
	)
	LeaseSweptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_lease_swept_total",
			Help: "Total number of expired leases released by sweeping.",
		},
		[]string{"backend"},
	)

	ArtifactsEnsuredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_artifacts_ensured_total",
			Help: "Total number of artifact guarantees, labeled by artifact type and creation path (existing, tool, direct).",
		},
		[]string{"type", "path"},
	)
	ToolCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_events_tool_call_duration_seconds",
			Help:    "Histogram of tool-invocation endpoint call durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	CompletionVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_completion_verdicts_total",
			Help: "Total number of completion verdicts, labeled by state, deciding rule and whether the post-check corrected it.",
		},
		[]string{"state", "rule", "corrected"},
	)

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_events_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"operation", "entity", "workspace_id", "status"},
	)

	anomalyTasksSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "call_events_anomaly_tasks_submitted_total",
			Help: "Total number of anomaly check tasks submitted to the worker pool.",
		},
	)
	anomalyTasksDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "call_events_anomaly_tasks_dropped_total",
			Help: "Total number of anomaly check tasks dropped because the pool was saturated.",
		},
	)
	anomalyFlagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_anomaly_flags_total",
			Help: "Total number of callers flagged by anomaly checks, labeled by reason.",
		},
		[]string{"reason"},
	)
	anomalyWorkersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "call_events_anomaly_workers_running",
			Help: "Current number of running anomaly check workers.",
		},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_finalized_published_total",
			Help: "Total number of finalized-call events published to NATS, labeled by status.",
		},
		[]string{"status"},
	)

	loadgenLabels = []string{"event_type"} // Labels for loadgen metrics

	loadgenRequestsAttemptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_requests_attempted_total",
			Help: "Total number of webhook requests the load generator attempted to send.",
		},
		loadgenLabels,
	)
	loadgenRequestsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_requests_sent_total",
			Help: "Total number of webhook requests answered, labeled by HTTP status code.",
		},
		append(loadgenLabels, "code"),
	)
	loadgenRequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_request_errors_total",
			Help: "Total number of transport errors encountered by the load generator.",
		},
		loadgenLabels,
	)
)

func init() {
	metricsEnabled.Store(true)
}

// InitMetrics toggles metric collection. Collectors are registered by promauto
// at package load; disabling only stops updates.
func InitMetrics(enabled bool) {
	metricsEnabled.Store(enabled)
}

// sanitizeWorkspace ensures the workspace label is valid or returns a default value.
func sanitizeWorkspace(workspaceID string) string {
	if workspaceID == "" {
		return "unknown"
	}
	return workspaceID
}

// IncWebhookReceived increments the webhook received counter.
func IncWebhookReceived(kind, workspaceID string) {
	if !metricsEnabled.Load() {
		return
	}
	WebhookEventsReceivedTotal.WithLabelValues(kind, sanitizeWorkspace(workspaceID)).Inc()
}

// IncWebhookHandled records how a webhook delivery ended.
func IncWebhookHandled(kind, workspaceID, result, reason string) {
	if !metricsEnabled.Load() {
		return
	}
	if reason == "" {
		reason = "none"
	}
	WebhookEventsHandledTotal.WithLabelValues(kind, sanitizeWorkspace(workspaceID), result, reason).Inc()
}

// ObserveWebhookDuration records the processing time of one webhook delivery.
func ObserveWebhookDuration(kind, workspaceID string, duration time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	WebhookProcessingDurationSeconds.WithLabelValues(kind, sanitizeWorkspace(workspaceID)).Observe(duration.Seconds())
}

// IncStepError counts a pipeline step failure with its disposition.
func IncStepError(step, disposition string, err error) {
	if !metricsEnabled.Load() {
		return
	}
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	StepErrorsTotal.WithLabelValues(step, disposition, SanitizeErrorType(errStr)).Inc()
}

// IncLeaseDecision counts a lease acquisition result (granted, limit_reached, ...).
func IncLeaseDecision(workspaceID, backend, result string) {
	if !metricsEnabled.Load() {
		return
	}
	LeaseDecisionsTotal.WithLabelValues(sanitizeWorkspace(workspaceID), backend, result).Inc()
}

// IncLeaseRelease counts a release call.
func IncLeaseRelease(backend string, removed bool) {
	if !metricsEnabled.Load() {
		return
	}
	r := "false"
	if removed {
		r = "true"
	}
	LeaseReleasesTotal.WithLabelValues(backend, r).Inc()
}

// AddLeasesSwept adds the number of leases released by a sweep.
func AddLeasesSwept(backend string, n int) {
	if !metricsEnabled.Load() || n <= 0 {
		return
	}
	LeaseSweptTotal.WithLabelValues(backend).Add(float64(n))
}

// IncArtifactEnsured counts an artifact guarantee by type and path.
func IncArtifactEnsured(artifactType, path string) {
	if !metricsEnabled.Load() {
		return
	}
	ArtifactsEnsuredTotal.WithLabelValues(artifactType, path).Inc()
}

// ObserveToolCall records one tool endpoint request.
func ObserveToolCall(duration time.Duration, err error) {
	if !metricsEnabled.Load() {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	ToolCallDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// IncCompletionVerdict counts a completion verdict.
func IncCompletionVerdict(state, rule string, corrected bool) {
	if !metricsEnabled.Load() {
		return
	}
	c := "false"
	if corrected {
		c = "true"
	}
	CompletionVerdictsTotal.WithLabelValues(state, rule, c).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, workspaceID string, duration time.Duration, err error) {
	if !metricsEnabled.Load() {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeWorkspace(workspaceID), status).Observe(duration.Seconds())
}

// IncAnomalyTasksSubmitted increments the counter for submitted anomaly tasks.
func IncAnomalyTasksSubmitted() {
	if metricsEnabled.Load() {
		anomalyTasksSubmittedTotal.Inc()
	}
}

// IncAnomalyTasksDropped increments the counter for anomaly tasks the pool refused.
func IncAnomalyTasksDropped() {
	if metricsEnabled.Load() {
		anomalyTasksDroppedTotal.Inc()
	}
}

// IncAnomalyFlag counts a caller flagged for the given reason.
func IncAnomalyFlag(reason string) {
	if metricsEnabled.Load() {
		anomalyFlagsTotal.WithLabelValues(reason).Inc()
	}
}

// SetAnomalyWorkersRunning sets the current number of running anomaly workers.
func SetAnomalyWorkersRunning(count int) {
	if metricsEnabled.Load() {
		anomalyWorkersRunning.Set(float64(count))
	}
}

// IncEventPublished counts a finalized-call publish attempt.
func IncEventPublished(err error) {
	if !metricsEnabled.Load() {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	eventsPublishedTotal.WithLabelValues(status).Inc()
}

// IncLoadgenRequestsAttempted increments the counter for attempted webhook requests.
func IncLoadgenRequestsAttempted(eventType string) {
	if metricsEnabled.Load() {
		loadgenRequestsAttemptedTotal.WithLabelValues(eventType).Inc()
	}
}

// IncLoadgenRequestsSent increments the counter for answered webhook requests.
func IncLoadgenRequestsSent(eventType string, code int) {
	if metricsEnabled.Load() {
		loadgenRequestsSentTotal.WithLabelValues(eventType, strconv.Itoa(code)).Inc()
	}
}

// IncLoadgenRequestErrors increments the counter for transport errors.
func IncLoadgenRequestErrors(eventType string) {
	if metricsEnabled.Load() {
		loadgenRequestErrorsTotal.WithLabelValues(eventType).Inc()
	}
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "malformed"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "lease"):
		return "lease"
	case strings.Contains(errStr, "tool call"):
		return "tool"
	case strings.Contains(errStr, "redis"):
		return "redis"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
