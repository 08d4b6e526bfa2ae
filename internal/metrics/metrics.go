// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flasharb"

// Metrics holds every collector. It satisfies dex.Recorder and
// executor.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	SwapsObserved      *prometheus.CounterVec
	SwapsDropped       *prometheus.CounterVec
	PriceImpactBps     *prometheus.HistogramVec
	OpportunitiesFound *prometheus.CounterVec
	Submissions        *prometheus.CounterVec
	Confirmations      *prometheus.CounterVec
	StreamReconnects   prometheus.Counter
}

// New registers all collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SwapsObserved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dex",
			Name:      "swaps_observed_total",
			Help:      "Swap events decoded per venue",
		}, []string{"venue"}),
		SwapsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dex",
			Name:      "swaps_dropped_total",
			Help:      "Swap events dropped because a pool queue was full",
		}, []string{"venue"}),
		PriceImpactBps: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "price_impact_bps",
			Help:      "Absolute price impact of observed swaps in basis points",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"venue"}),
		OpportunitiesFound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "opportunities_total",
			Help:      "Profitable opportunities assembled per venue",
		}, []string{"venue"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "submissions_total",
			Help:      "Flash-loan submissions by outcome",
		}, []string{"venue", "outcome"}),
		Confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "confirmations_total",
			Help:      "Contract confirmation events by kind",
		}, []string{"kind"}),
		StreamReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Successful stream reconnects",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SwapObserved(venue string) { m.SwapsObserved.WithLabelValues(venue).Inc() }
func (m *Metrics) SwapDropped(venue string)  { m.SwapsDropped.WithLabelValues(venue).Inc() }

func (m *Metrics) PriceImpact(venue string, bps float64) {
	m.PriceImpactBps.WithLabelValues(venue).Observe(bps)
}

func (m *Metrics) OpportunityFound(venue string) { m.OpportunitiesFound.WithLabelValues(venue).Inc() }

func (m *Metrics) Submission(venue, outcome string) {
	m.Submissions.WithLabelValues(venue, outcome).Inc()
}

func (m *Metrics) Confirmation(kind string) { m.Confirmations.WithLabelValues(kind).Inc() }

// Reconnected is registered as a stream reconnect hook.
func (m *Metrics) Reconnected() { m.StreamReconnects.Inc() }
