// Package metrics holds the process-wide Prometheus registry and the
// collectors the coordinator reports into.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry is exposed at /metrics
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		SagaTotal, CompensationTotal,
		ChainCallDuration,
		FlagsRaised, FlagsResolved, OpenFlags,
		HTTPRequestDuration,
	)
}

// SagaTotal counts coordinator writes by operation and outcome
var SagaTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "custody_saga_total",
		Help: "Coordinator write operations by outcome",
	},
	[]string{"operation", "outcome"}, // outcome: committed | not_applied | relational_only | chain_only | unknown
)

// CompensationTotal counts compensating deletes
var CompensationTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "custody_compensation_total",
		Help: "Compensating deletes after a failed chain add",
	},
	[]string{"result"}, // ok | failed
)

// ChainCallDuration is chain adapter latency in seconds
var ChainCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "custody_chain_call_seconds",
		Help:    "Chain adapter call latency in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// FlagsRaised counts reconciliation flags by kind
var FlagsRaised = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "custody_flags_raised_total",
		Help: "Reconciliation flags raised",
	},
	[]string{"kind"},
)

// FlagsResolved counts resolved flags by resolution
var FlagsResolved = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "custody_flags_resolved_total",
		Help: "Reconciliation flags resolved",
	},
	[]string{"resolution"},
)

// OpenFlags is the number of unresolved flags seen by the last reconcile pass
var OpenFlags = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "custody_open_flags",
		Help: "Unresolved reconciliation flags",
	},
)

// HTTPRequestDuration is API latency in seconds by method and status code
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "custody_http_request_seconds",
		Help:    "Custody API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "code"},
)

// Handler serves DefaultRegistry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
