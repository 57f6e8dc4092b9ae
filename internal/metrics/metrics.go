package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the service collectors. A nil *Metrics is valid and
// records nothing, so components can run without instrumentation.
type Metrics struct {
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	activations  *prometheus.CounterVec
	queries      *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	cacheEvicted prometheus.Counter
	upstream     *prometheus.HistogramVec
	storeUp      prometheus.Gauge
}

// New builds the collectors on a private registry, including the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "querygate",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration observed at the API layer.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route", "status"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "querygate",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled by the API.",
			},
			[]string{"method", "route", "status"},
		),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "querygate",
				Name:      "activations_total",
				Help:      "Activation attempts by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "querygate",
				Name:      "queries_total",
				Help:      "Queries by entitlement kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "querygate",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Response cache lookups by result.",
			},
			[]string{"result"},
		),
		cacheEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querygate",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries removed from the response cache by size or age.",
		}),
		upstream: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "querygate",
				Subsystem: "upstream",
				Name:      "duration_seconds",
				Help:      "Answer provider call duration.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"outcome"},
		),
		storeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "querygate",
			Subsystem: "store",
			Name:      "up",
			Help:      "1 when the last store health check succeeded.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration, m.requestTotal,
		m.activations, m.queries,
		m.cacheLookups, m.cacheEvicted,
		m.upstream, m.storeUp,
	)
	return m
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	m.requestTotal.WithLabelValues(method, route, code).Inc()
}

func (m *Metrics) Activation(kind, outcome string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Query(kind, outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheEviction() {
	if m == nil {
		return
	}
	m.cacheEvicted.Inc()
}

func (m *Metrics) Upstream(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) StoreUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.storeUp.Set(1)
		return
	}
	m.storeUp.Set(0)
}
