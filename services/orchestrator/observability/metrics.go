// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// answer orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the execution
// loop and the streaming surface. Metrics include:
//   - Request counters (by endpoint, status, error code)
//   - Execution cycle histograms and replan counters
//   - Verifier verdict counters
//   - Latency histograms (time to first token, total duration)
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for orchestration metrics
const answersSubsystem = "answers"

// OrchestratorMetrics holds all Prometheus metrics for query execution and
// streaming.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring the execution
// loop and stream delivery. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type OrchestratorMetrics struct {
	// RequestsTotal counts query requests by endpoint and status.
	// Labels: endpoint (query_sync, query_stream, query_ws), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ExecutionCycles observes how many plan/verify cycles each request took.
	// Labels: status (success, error)
	ExecutionCycles *prometheus.HistogramVec

	// ReplansTotal counts verifier-driven replans by rejection reason.
	// Labels: reason (uncited_claim, low_relevance_evidence_only, citation_evidence_mismatch)
	ReplansTotal *prometheus.CounterVec

	// VerdictsTotal counts verifier decisions.
	// Labels: verdict (accepted, rejected)
	VerdictsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to first token.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// RequestDurationSeconds measures total request duration.
	// Labels: endpoint, status
	RequestDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts failures by endpoint and closed error code.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// DroppedThinkingTotal counts thinking events dropped under backpressure.
	// Labels: endpoint
	DroppedThinkingTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections during streaming.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of OrchestratorMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *OrchestratorMetrics

var initMetricsOnce sync.Once

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics against the default
// registry. Registration happens once; later calls return the same
// instance.
func InitMetrics() *OrchestratorMetrics {
	initMetricsOnce.Do(initDefaultMetrics)
	return DefaultMetrics
}

func initDefaultMetrics() {
	DefaultMetrics = &OrchestratorMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "requests_total",
				Help:      "Total number of query requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		ExecutionCycles: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "execution_cycles",
				Help:      "Plan/verify cycles consumed per request",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
			[]string{"status"},
		),

		ReplansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "replans_total",
				Help:      "Verifier-driven replans by rejection reason",
			},
			[]string{"reason"},
		),

		VerdictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "verdicts_total",
				Help:      "Verifier decisions",
			},
			[]string{"verdict"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Total request duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "errors_total",
				Help:      "Total failures by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		DroppedThinkingTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "dropped_thinking_total",
				Help:      "Thinking events dropped under backpressure",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answersSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a serving surface for metrics labeling.
type Endpoint string

const (
	// EndpointQuerySync is the synchronous query endpoint.
	EndpointQuerySync Endpoint = "query_sync"

	// EndpointQueryStream is the SSE streaming query endpoint.
	EndpointQueryStream Endpoint = "query_stream"

	// EndpointQueryWS is the WebSocket streaming endpoint.
	EndpointQueryWS Endpoint = "query_ws"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request.
func (m *OrchestratorMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records a failure by closed error code.
func (m *OrchestratorMetrics) RecordError(endpoint Endpoint, errorCode string) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), errorCode).Inc()
}

// RecordCycles observes the cycle count of a finished run.
func (m *OrchestratorMetrics) RecordCycles(cycles int, success bool) {
	m.ExecutionCycles.WithLabelValues(statusLabel(success)).Observe(float64(cycles))
}

// RecordReplan counts one verifier-driven replan.
func (m *OrchestratorMetrics) RecordReplan(reason string) {
	m.ReplansTotal.WithLabelValues(reason).Inc()
	m.VerdictsTotal.WithLabelValues("rejected").Inc()
}

// RecordAccept counts one accepted verdict.
func (m *OrchestratorMetrics) RecordAccept() {
	m.VerdictsTotal.WithLabelValues("accepted").Inc()
}

// StreamStarted increments the active streams gauge.
func (m *OrchestratorMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *OrchestratorMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records the time to first token latency.
func (m *OrchestratorMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordDuration records the total request duration.
func (m *OrchestratorMetrics) RecordDuration(endpoint Endpoint, seconds float64, success bool) {
	m.RequestDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordDroppedThinking counts a thinking event dropped under backpressure.
func (m *OrchestratorMetrics) RecordDroppedThinking(endpoint Endpoint) {
	m.DroppedThinkingTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *OrchestratorMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
