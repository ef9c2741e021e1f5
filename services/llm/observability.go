// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// llmTracerName is the shared OTel tracer name for the chat client.
const llmTracerName = "librarian.llm"

// Package-level Prometheus metrics for chat completion calls.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// llmCallDuration measures the duration of chat completion calls.
	//
	// Labels:
	//   - model: model name sent in the request
	//   - status: "success" or "error"
	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "librarian",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of chat completion calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model", "status"},
	)

	// llmCallsTotal counts chat completion calls.
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of chat completion calls.",
		},
		[]string{"model", "status"},
	)

	// llmTokensTotal counts approximate tokens moved per direction.
	//
	// Labels:
	//   - model: model name
	//   - direction: "input" or "output"
	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Approximate tokens consumed by chat completion calls.",
		},
		[]string{"model", "direction"},
	)

	// llmErrorsTotal counts errors by coarse type to keep label
	// cardinality bounded.
	llmErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total chat completion errors by type.",
		},
		[]string{"model", "error_type"},
	)

	// llmActiveRequests tracks in-flight chat completion requests.
	llmActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "librarian",
			Subsystem: "llm",
			Name:      "active_requests",
			Help:      "Number of currently active chat completion requests.",
		},
		[]string{"model"},
	)
)

// EstimateTokens approximates the token count of a string.
//
// Description:
//
//	Uses the standard chars/4 heuristic. Deterministic and cheap, which is
//	what conversation budgeting needs; it is not a model-exact count.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// estimateMessagesTokens approximates the token count of a full prompt.
func estimateMessagesTokens(messages []ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(tc.Name) + EstimateTokens(string(tc.Arguments))
		}
	}
	return total
}

// classifyError maps an error to a label-safe error type string.
//
// Description:
//
//	Inspects the error message to categorize it into one of the predefined
//	error types used as Prometheus label values. This avoids high-cardinality
//	labels from raw error messages.
//
// Outputs:
//
//	string - One of: "timeout", "auth", "rate_limit", "server", "shape",
//	         "empty_response", "unknown". Empty string for nil error.
//
// Thread Safety: Safe for concurrent use.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	switch err.(type) {
	case *ArgumentShapeError:
		return "shape"
	case *EmptyResponseError:
		return "empty_response"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "returned status 401") ||
		strings.Contains(msg, "returned status 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "returned status 429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "returned status 500") ||
		strings.Contains(msg, "returned status 502") ||
		strings.Contains(msg, "returned status 503") ||
		strings.Contains(msg, "server error"):
		return "server"
	default:
		return "unknown"
	}
}

// recordCallMetrics records Prometheus metrics for one completed call.
//
// Description:
//
//	One-shot recording for both success and error paths. Records duration,
//	call count, token estimates (on success), and error type (on failure).
//
// Thread Safety: Safe for concurrent use.
func recordCallMetrics(model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	status := "success"
	if err != nil {
		status = "error"
		llmErrorsTotal.WithLabelValues(model, classifyError(err)).Inc()
	}

	llmCallDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	llmCallsTotal.WithLabelValues(model, status).Inc()

	if err == nil {
		llmTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
		llmTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func incActiveRequests(model string) {
	llmActiveRequests.WithLabelValues(model).Inc()
}

func decActiveRequests(model string) {
	llmActiveRequests.WithLabelValues(model).Dec()
}
