// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records orchestration metrics in Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	runs            *prometheus.CounterVec
	runTurns        prometheus.Histogram
	toolInvocations *prometheus.CounterVec
	endpointLatency *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
}

// NewMetrics registers the orchestration collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "toolloop_runs_total",
			Help: "Total number of runs by terminal state",
		}, []string{"state"}),

		runTurns: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "toolloop_run_turns",
			Help:    "Model round-trips per run",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13, 21},
		}),

		toolInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "toolloop_tool_invocations_total",
			Help: "Total number of tool invocations by tool and outcome",
		}, []string{"tool", "status"}),

		endpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolloop_endpoint_latency_seconds",
			Help:    "Model endpoint call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}, []string{"status"}),

		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "toolloop_tokens_total",
			Help: "Tokens reported by the model endpoint",
		}, []string{"direction"}),
	}
}

func (m *Metrics) recordRun(state State, turns int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(state)).Inc()
	m.runTurns.Observe(float64(turns))
}

func (m *Metrics) recordTool(name string, res *ToolResultPart) {
	if m == nil {
		return
	}
	status := "ok"
	if res.Failed() {
		status = res.Error.Code
		// Unregistered names come from the model and are unbounded.
		if status == FailureUnknownTool {
			name = "unknown"
		}
	}
	m.toolInvocations.WithLabelValues(name, status).Inc()
}

func (m *Metrics) recordEndpoint(d time.Duration, err error, usage UsageDetails) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.endpointLatency.WithLabelValues(status).Observe(d.Seconds())
	m.tokens.WithLabelValues("input").Add(float64(usage.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(usage.OutputTokens))
}
