package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service.
//
// Tracked concerns:
//   - conversation turns and per-turn LLM spend
//   - experiment lifecycle outcomes and per-patient results
//   - HTTP API latency
type Metrics struct {
	// TurnsTotal counts orchestrator turns. Labels: outcome (ok|error).
	TurnsTotal *prometheus.CounterVec

	// LLMCostUSD accumulates model spend in dollars.
	LLMCostUSD prometheus.Counter

	// LLMTokensTotal counts tokens. Labels: type (input|output).
	LLMTokensTotal *prometheus.CounterVec

	// ExperimentsTotal counts finished experiments by terminal status.
	// Labels: status (completed|partial_complete|failed).
	ExperimentsTotal *prometheus.CounterVec

	// ExperimentPatientsTotal counts per-patient outcomes inside
	// experiments. Labels: result (processed|failed).
	ExperimentPatientsTotal *prometheus.CounterVec

	// HTTPRequestDuration measures API latency in seconds.
	// Labels: method, path, status_code.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers collectors on the default registry. Call once at
// process start.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers collectors on a caller-supplied registry,
// which keeps tests independent of global state.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartflow_turns_total",
				Help: "Orchestrator turns by outcome.",
			},
			[]string{"outcome"},
		),
		LLMCostUSD: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chartflow_llm_cost_usd_total",
				Help: "Accumulated LLM spend in USD.",
			},
		),
		LLMTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartflow_llm_tokens_total",
				Help: "LLM tokens by direction.",
			},
			[]string{"type"},
		),
		ExperimentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartflow_experiments_total",
				Help: "Experiments reaching a terminal status.",
			},
			[]string{"status"},
		),
		ExperimentPatientsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartflow_experiment_patients_total",
				Help: "Per-patient experiment outcomes.",
			},
			[]string{"result"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartflow_http_request_duration_seconds",
				Help:    "HTTP API latency.",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
