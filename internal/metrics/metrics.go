// Package metrics holds the Prometheus collectors exported by the
// coordinator and the storage nodes.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "stripes"

// Lookup results recorded by RedirectionLookups.
const (
	LookupHit  = "hit"
	LookupMiss = "miss"
)

// Metrics is one registry together with its collectors. Every process (and
// every test) builds its own so registration never collides.
type Metrics struct {
	Registry *prometheus.Registry

	StripesGenerated   *prometheus.CounterVec
	GroupExtensions    *prometheus.CounterVec
	BalanceViolations  *prometheus.CounterVec
	RedirectionLookups *prometheus.CounterVec
	ActiveRedirections prometheus.Gauge
	NodeHealthy        *prometheus.GaugeVec
	ChunkRequests      *prometheus.CounterVec
	RequestHistogram   *prometheus.HistogramVec
}

// New creates and registers the collectors of the given subsystem
// ("coordinator" or "node").
func New(subsystem string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		StripesGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "stripes_generated_total",
				Help:      "Counter of stripes placed by the engine.",
			}, []string{"list"}),

		GroupExtensions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "group_extensions_total",
				Help:      "Counter of placement group extensions.",
			}, []string{"list"}),

		BalanceViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "balance_violations_total",
				Help:      "Counter of placement groups whose load spread exceeded the bound.",
			}, []string{"list"}),

		RedirectionLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "redirection_lookups_total",
				Help:      "Counter of chunk resolutions by redirection result.",
			}, []string{"result"}),

		ActiveRedirections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "active_redirections",
				Help:      "Number of stripes with a redirection table attached.",
			}),

		NodeHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "node_healthy",
				Help:      "1 if the node passes health checks, 0 otherwise.",
			}, []string{"node"}),

		ChunkRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "chunk_requests_total",
				Help:      "Counter of chunk requests.",
			}, []string{"type", "code"}),

		RequestHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "request_seconds",
				Help:      "Bucketed histogram of request processing time.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
			}, []string{"type"}),
	}

	m.Registry.MustRegister(
		m.StripesGenerated,
		m.GroupExtensions,
		m.BalanceViolations,
		m.RedirectionLookups,
		m.ActiveRedirections,
		m.NodeHealthy,
		m.ChunkRequests,
		m.RequestHistogram,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// List formats a list id as a label value.
func List(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
