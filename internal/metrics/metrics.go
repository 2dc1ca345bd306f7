// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gate outcomes.
const (
	GateUntrained   = "untrained"
	GateObservation = "observation"
	GateRespond     = "respond"
	GateSilent      = "silent"
)

// Training outcomes.
const (
	TrainCompleted = "completed"
	TrainSkipped   = "skipped"
	TrainFailed    = "failed"
)

// Reaction kinds.
const (
	ReactionFeedback = "feedback"
	ReactionRequest  = "request"
	ReactionForceful = "forceful"
	ReactionIgnored  = "ignored"
)

// Metrics holds Prometheus metrics for message handling and training.
// A nil *Metrics is valid and records nothing.
//
// Metrics:
//   - ocky_messages_total - Count of inbound messages handled
//   - ocky_gate_decisions_total{outcome} - Gate outcomes
//   - ocky_gate_probability - Histogram of computed respond probabilities
//   - ocky_responses_total{category} - Responses emitted
//   - ocky_reactions_total{kind} - Reactions processed ("feedback", "request", "forceful", "ignored")
//   - ocky_training_passes_total{outcome} - Training passes
//   - ocky_training_duration_seconds - Histogram of training pass durations
//   - ocky_training_label_ratio - Positive/negative respond label ratio at the last pass
//   - ocky_embedding_drift - Mean embedding drift at the last pass
type Metrics struct {
	Messages        prometheus.Counter
	GateDecisions   *prometheus.CounterVec
	GateProbability prometheus.Histogram
	Responses       *prometheus.CounterVec
	Reactions       *prometheus.CounterVec

	TrainingPasses   *prometheus.CounterVec
	TrainingDuration prometheus.Histogram
	LabelRatio       prometheus.Gauge
	EmbeddingDrift   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounter(prometheus.CounterOpts{
			Name: "ocky_messages_total",
			Help: "Total number of inbound messages handled",
		}),
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ocky_gate_decisions_total",
			Help: "Respond gate outcomes",
		}, []string{"outcome"}),
		GateProbability: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocky_gate_probability",
			Help:    "Respond probabilities computed by a trained gate",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
		Responses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ocky_responses_total",
			Help: "Responses emitted by category",
		}, []string{"category"}),
		Reactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ocky_reactions_total",
			Help: "Reaction events processed by kind",
		}, []string{"kind"}),
		TrainingPasses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ocky_training_passes_total",
			Help: "Training passes by outcome",
		}, []string{"outcome"}),
		TrainingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocky_training_duration_seconds",
			Help:    "Duration of training passes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		LabelRatio: f.NewGauge(prometheus.GaugeOpts{
			Name: "ocky_training_label_ratio",
			Help: "Positive to negative respond label ratio at the last training pass",
		}),
		EmbeddingDrift: f.NewGauge(prometheus.GaugeOpts{
			Name: "ocky_embedding_drift",
			Help: "Mean cosine distance between learned and literal response embeddings",
		}),
	}
}

func (m *Metrics) MessageHandled() {
	if m == nil {
		return
	}
	m.Messages.Inc()
}

func (m *Metrics) GateDecision(outcome string, probability float64, trained bool) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(outcome).Inc()
	if trained {
		m.GateProbability.Observe(probability)
	}
}

func (m *Metrics) ResponseEmitted(category string) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(category).Inc()
}

func (m *Metrics) Reaction(kind string) {
	if m == nil {
		return
	}
	m.Reactions.WithLabelValues(kind).Inc()
}

// TrainingPass records one pass. ratio and drift are only set on completion.
func (m *Metrics) TrainingPass(outcome string, d time.Duration, ratio, drift float64) {
	if m == nil {
		return
	}
	m.TrainingPasses.WithLabelValues(outcome).Inc()
	m.TrainingDuration.Observe(d.Seconds())
	if outcome == TrainCompleted {
		m.LabelRatio.Set(ratio)
		m.EmbeddingDrift.Set(drift)
	}
}
