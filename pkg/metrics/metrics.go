// Package metrics holds the Prometheus collectors for governance decisions.
// Collectors register on a caller-supplied registry so that tests and
// multiple instances never collide on the global one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the plugin exports.
type Metrics struct {
	// CacheLookups counts cache lookups by result ("hit", "miss").
	CacheLookups *prometheus.CounterVec

	// BudgetRejections counts calls refused by the spending ceiling.
	BudgetRejections prometheus.Counter

	// Admissions counts rate limiter outcomes ("admitted", "queue_full",
	// "queue_timeout", "throttle_exhausted", "cancelled", "error").
	Admissions *prometheus.CounterVec

	// AdmissionWait observes how long callers waited for admission.
	AdmissionWait prometheus.Histogram

	// ThrottleSignals counts remote throttling responses.
	ThrottleSignals prometheus.Counter

	// Calls counts completed remote calls by model and status ("success", "error").
	Calls *prometheus.CounterVec

	// Tokens counts consumed tokens by model and direction ("input", "output").
	Tokens *prometheus.CounterVec

	// CostUSD accumulates spend by model.
	CostUSD *prometheus.CounterVec

	// PendingRequests is the rate limiter's queue depth.
	PendingRequests prometheus.Gauge

	// SessionCostUSD is the tracker's running total.
	SessionCostUSD prometheus.Gauge
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_cache_lookups_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),
		BudgetRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_budget_rejections_total",
			Help: "Calls refused because they would exceed the spending ceiling.",
		}),
		Admissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_admissions_total",
			Help: "Rate limiter admission outcomes.",
		}, []string{"outcome"}),
		AdmissionWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_admission_wait_seconds",
			Help:    "Time spent waiting for rate limiter admission.",
			Buckets: []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		ThrottleSignals: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_throttle_signals_total",
			Help: "Throttling responses received from the remote API.",
		}),
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_calls_total",
			Help: "Remote calls by model and status.",
		}, []string{"model", "status"}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tokens_total",
			Help: "Tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
		CostUSD: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_cost_usd_total",
			Help: "Spend in USD by model.",
		}, []string{"model"}),
		PendingRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_rate_pending_requests",
			Help: "Callers waiting in the rate limiter queue.",
		}),
		SessionCostUSD: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_session_cost_usd",
			Help: "Spend of the current session in USD.",
		}),
	}
}
