package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arc-self/rotor/internal/model"
)

// Metrics exposes the Prometheus counters/histograms the message handler
// emits for per-step outcomes and durations. Prometheus aggregates across
// messages by label, so messageId is passed to the execution-log sink (see
// internal/handler) rather than carried as a high-cardinality label.
type Metrics struct {
	stepOutcomes  *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	messagesTotal *prometheus.CounterVec
}

// NewMetrics registers the rotor's Prometheus collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stepOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rotor",
			Name:      "step_outcomes_total",
			Help:      "Count of function chain step outcomes by step id and outcome.",
		}, []string{"workspace_id", "step_id", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rotor",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual function chain steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workspace_id", "step_id"}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rotor",
			Name:      "messages_total",
			Help:      "Count of processed bus messages by final outcome.",
		}, []string{"workspace_id", "outcome"}),
	}
}

// RecordExecution records one message's execution log and terminal outcome.
func (m *Metrics) RecordExecution(workspaceID string, log model.ExecutionLog, outcome string) {
	for _, entry := range log {
		m.stepOutcomes.WithLabelValues(workspaceID, entry.StepID, string(entry.Outcome)).Inc()
		m.stepDuration.WithLabelValues(workspaceID, entry.StepID).Observe(time.Duration(entry.DurationMs * int64(time.Millisecond)).Seconds())
	}
	m.messagesTotal.WithLabelValues(workspaceID, outcome).Inc()
}
