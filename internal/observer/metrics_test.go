package observer

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorType(t *testing.T) {
	tests := map[string]string{
		"":                               "none",
		"database error: duplicate":      "database",
		"validation failed: field":       "validation",
		"resource not found":             "not_found",
		"lease internal error":           "lease",
		"tool call failed: 502":          "tool",
		"context deadline exceeded":      "timeout",
		"json: cannot unmarshal":         "unmarshal",
		"something completely different": "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeErrorType(in), in)
	}
}

func TestCounters_RespectEnabledFlag(t *testing.T) {
	defer InitMetrics(true)

	InitMetrics(true)
	before := testutil.ToFloat64(LeaseDecisionsTotal.WithLabelValues("ws-metrics", "postgres", "granted"))
	IncLeaseDecision("ws-metrics", "postgres", "granted")
	assert.Equal(t, before+1, testutil.ToFloat64(LeaseDecisionsTotal.WithLabelValues("ws-metrics", "postgres", "granted")))

	InitMetrics(false)
	IncLeaseDecision("ws-metrics", "postgres", "granted")
	assert.Equal(t, before+1, testutil.ToFloat64(LeaseDecisionsTotal.WithLabelValues("ws-metrics", "postgres", "granted")))
}

func TestHelpers_DoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		IncWebhookReceived("status-update", "")
		IncWebhookHandled("status-update", "ws", "ignored", "")
		ObserveWebhookDuration("status-update", "ws", time.Millisecond)
		IncStepError("upsert_call", "propagate", errors.New("database error"))
		IncLeaseRelease("redis", true)
		AddLeasesSwept("redis", 2)
		IncArtifactEnsured("ticket", "direct")
		ObserveToolCall(time.Millisecond, nil)
		IncCompletionVerdict("abandoned", "post_check", true)
		ObserveDbOperationDuration("upsert", "call", "", time.Millisecond, nil)
		IncAnomalyTasksSubmitted()
		IncAnomalyTasksDropped()
		IncAnomalyFlag("burst")
		SetAnomalyWorkersRunning(1)
		IncEventPublished(nil)
	})
}
