package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Turn outcomes.
const (
	OutcomeOK               = "ok"
	OutcomeGreeting         = "greeting"
	OutcomeGenerationFailed = "generation_failed"
	OutcomePersistWarning   = "persistence_warning"
	OutcomeCancelled        = "cancelled"
	OutcomeRejected         = "rejected"
)

// WorkflowMetrics exposes counters/histograms for the conversation workflow.
type WorkflowMetrics struct {
	turnsTotal     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	channelResults *prometheus.CounterVec
	conflictsTotal prometheus.Counter
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heartline",
			Subsystem: "workflow",
			Name:      "turns_total",
			Help:      "Turns processed by outcome",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heartline",
			Subsystem: "workflow",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each workflow stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		channelResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heartline",
			Subsystem: "workflow",
			Name:      "channel_results_total",
			Help:      "Emotion channel results by channel and result",
		}, []string{"channel", "result"}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heartline",
			Subsystem: "workflow",
			Name:      "conflicts_total",
			Help:      "Inconsistent emotion observations recorded",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.stageDuration, m.channelResults, m.conflictsTotal)
	return m
}

func (m *WorkflowMetrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

func (m *WorkflowMetrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveChannel records one channel call; result is ok, failure or timeout.
func (m *WorkflowMetrics) ObserveChannel(channel, result string) {
	if m == nil {
		return
	}
	m.channelResults.WithLabelValues(channel, result).Inc()
}

func (m *WorkflowMetrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}
