// Package metrics exposes the Prometheus counters/histograms SPEC_FULL §1
// names for the proxy core and RAF, grounded on the donor pack's own
// prometheus/metrics.go (Moatassem-sessionrouter).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the custom Prometheus collectors for this process.
type Metrics struct {
	Registry *prometheus.Registry

	ForksStarted   prometheus.Counter
	FinalResponses *prometheus.CounterVec
	CancelsSent    prometheus.Counter

	AuthOutcomes *prometheus.CounterVec
	HSSLatency   prometheus.Histogram
}

// NewMetrics initializes a fresh registry plus this process's collectors.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	forksStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forks_started_total",
		Help:      "Number of forked branches dispatched by InitUACTransactions.",
	})
	reg.MustRegister(forksStarted)

	finalResponses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "final_responses_total",
		Help:      "Final responses sent by a UAS transaction, labeled by status code.",
	}, []string{"status"})
	reg.MustRegister(finalResponses)

	cancelsSent := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cancels_sent_total",
		Help:      "CANCEL requests sent to still-pending forked branches.",
	})
	reg.MustRegister(cancelsSent)

	authOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "raf_auth_outcomes_total",
		Help:      "RAF admission decisions, labeled by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(authOutcomes)

	hssLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hss_request_duration_seconds",
		Help:      "Latency of HTTP requests to the HSS.",
		Buckets:   prometheus.DefBuckets,
	})
	reg.MustRegister(hssLatency)

	return &Metrics{
		Registry:       reg,
		ForksStarted:   forksStarted,
		FinalResponses: finalResponses,
		CancelsSent:    cancelsSent,
		AuthOutcomes:   authOutcomes,
		HSSLatency:     hssLatency,
	}
}

// Handler serves the registry's metrics for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
