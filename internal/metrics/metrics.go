// Package metrics exposes the resolver's counters over Prometheus,
// replacing the teacher's stdout stats-printer loop with a scrapeable
// /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the resolver publishes.
type Registry struct {
	reg *prometheus.Registry

	QueriesTotal   *prometheus.CounterVec
	AnswersTotal   prometheus.Counter
	ErrorsTotal    prometheus.Counter
	NXDomainTotal  prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheSize   prometheus.GaugeFunc

	PoolQueueDepth prometheus.GaugeFunc
	PoolRejected   prometheus.CounterFunc

	UpstreamLatency prometheus.Histogram
}

// CacheSizeFunc, PoolDepthFunc and PoolRejectedFunc let the caller wire
// live gauges without
// this package importing cache/worker directly.
type CacheSizeFunc func() float64
type PoolDepthFunc func() float64
type PoolRejectedFunc func() float64

// New builds a Registry. The three Func arguments are sampled lazily on
// every /metrics scrape.
func New(cacheSize CacheSizeFunc, poolDepth PoolDepthFunc, poolRejected PoolRejectedFunc) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,

		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dnscored",
			Name:      "queries_total",
			Help:      "Total queries received, labeled by transport.",
		}, []string{"transport"}),

		AnswersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dnscored",
			Name:      "answers_total",
			Help:      "Total replies relayed from a resolver response, any rcode (NXDOMAIN included).",
		}),

		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dnscored",
			Name:      "errors_total",
			Help:      "Total requests answered with SERVFAIL or FORMERR.",
		}),

		NXDomainTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dnscored",
			Name:      "nxdomain_total",
			Help:      "Total NXDOMAIN answers returned.",
		}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dnscored",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups satisfied by an unexpired entry.",
		}),

		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dnscored",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that fell through to iterative resolution.",
		}),

		UpstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dnscored",
			Subsystem: "upstream",
			Name:      "exchange_seconds",
			Help:      "Latency of a single upstream exchange.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if cacheSize != nil {
		r.CacheSize = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dnscored",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cached (name, type) entries.",
		}, cacheSize)
	}
	if poolDepth != nil {
		r.PoolQueueDepth = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dnscored",
			Subsystem: "worker_pool",
			Name:      "queue_depth",
			Help:      "Current number of queued but undispatched requests.",
		}, poolDepth)
	}
	if poolRejected != nil {
		r.PoolRejected = factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "dnscored",
			Subsystem: "worker_pool",
			Name:      "rejected_total",
			Help:      "Requests dropped because the worker queue was full.",
		}, poolRejected)
	}

	return r
}

// Handler returns the HTTP handler that serves this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
