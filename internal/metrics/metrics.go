// Package metrics provides Prometheus metrics for the intake relay
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for relayed chat turns.
const (
	OutcomeCompleted     = "completed"
	OutcomeBadRequest    = "bad_request"
	OutcomeNotConfigured = "not_configured"
	OutcomeUpstreamError = "upstream_error"
	OutcomeStreamError   = "stream_error"
	OutcomeClientGone    = "client_gone"
)

// Completion labels.
const (
	CompletionSaved     = "saved"
	CompletionDuplicate = "duplicate"
	CompletionMalformed = "malformed"
	CompletionFailed    = "failed"
	CompletionSkipped   = "skipped"
)

// Metrics holds all Prometheus metrics for the relay
type Metrics struct {
	ChatTurnsTotal     *prometheus.CounterVec
	ChatTurnDuration   prometheus.Histogram
	ChatTurnsInFlight  prometheus.Gauge
	TimeToFirstDelta   prometheus.Histogram
	DeltasTotal        prometheus.Counter
	PromptTokens       prometheus.Histogram
	CompletionsTotal   *prometheus.CounterVec
	UpstreamStatusCode *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil reg uses a
// private registry, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ChatTurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_chat_turns_total",
				Help: "Total number of relayed chat turns by outcome",
			},
			[]string{"outcome"},
		),
		ChatTurnDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "intake_chat_turn_duration_seconds",
				Help:    "Duration of relayed chat turns in seconds",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
			},
		),
		ChatTurnsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "intake_chat_turns_in_flight",
				Help: "Number of chat turns currently streaming",
			},
		),
		TimeToFirstDelta: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "intake_time_to_first_delta_seconds",
				Help:    "Time from request to the first relayed content delta",
				Buckets: prometheus.DefBuckets,
			},
		),
		DeltasTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "intake_deltas_total",
				Help: "Total number of content deltas relayed",
			},
		),
		PromptTokens: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "intake_prompt_tokens_estimated",
				Help:    "Estimated conversation tokens sent upstream per turn",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10),
			},
		),
		CompletionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_completions_total",
				Help: "Completion markers seen, by persistence result",
			},
			[]string{"result"},
		),
		UpstreamStatusCode: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_upstream_responses_total",
				Help: "Upstream responses by status code",
			},
			[]string{"code"},
		),
	}
}

// RecordTurn records a finished chat turn
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	m.ChatTurnsTotal.WithLabelValues(outcome).Inc()
	m.ChatTurnDuration.Observe(duration.Seconds())
}

// RecordCompletion records what happened to a completion marker
func (m *Metrics) RecordCompletion(result string) {
	m.CompletionsTotal.WithLabelValues(result).Inc()
}
