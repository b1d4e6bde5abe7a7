// Package metrics holds the Prometheus collectors of the proxy. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sta_timeseries"

// Metrics groups all collectors.
type Metrics struct {
	httpRequests *prometheus.CounterVec   // by route, method, status
	httpDuration *prometheus.HistogramVec // by route

	hypertableQueries  *prometheus.CounterVec   // by kind
	hypertableRows     *prometheus.CounterVec   // by kind
	hypertableDuration *prometheus.HistogramVec // by kind
	inserts            *prometheus.CounterVec   // by kind, result (inserted, duplicate, error)

	upstreamRequests *prometheus.CounterVec // by method, status
	breakerState     prometheus.Gauge

	cacheLookups *prometheus.CounterVec // by result (hit, kv_hit, miss)
	cacheRefresh prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		}, []string{"route", "method", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route"}),

		hypertableQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hypertable",
			Name:      "queries_total",
			Help:      "Total number of hypertable page queries",
		}, []string{"kind"}),

		hypertableRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hypertable",
			Name:      "rows_total",
			Help:      "Total number of rows returned from hypertables",
		}, []string{"kind"}),

		hypertableDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hypertable",
			Name:      "query_duration_seconds",
			Help:      "Hypertable query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"kind"}),

		inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hypertable",
			Name:      "inserts_total",
			Help:      "Total number of hypertable inserts by outcome",
		}, []string{"kind", "result"}),

		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of requests forwarded upstream",
		}, []string{"method", "status"}),

		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "breaker_state",
			Help:      "Upstream circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog_cache",
			Name:      "lookups_total",
			Help:      "Datastream properties lookups by result",
		}, []string{"result"}),

		cacheRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog_cache",
			Name:      "refreshes_total",
			Help:      "Total number of full catalog reloads",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.httpRequests, m.httpDuration,
		m.hypertableQueries, m.hypertableRows, m.hypertableDuration, m.inserts,
		m.upstreamRequests, m.breakerState,
		m.cacheLookups, m.cacheRefresh,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) ObserveHypertableQuery(kind string, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.hypertableQueries.WithLabelValues(kind).Inc()
	m.hypertableRows.WithLabelValues(kind).Add(float64(rows))
	m.hypertableDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncInsert(kind, result string) {
	if m == nil {
		return
	}
	m.inserts.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncUpstream(method, status string) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(method, status).Inc()
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncCacheRefresh() {
	if m == nil {
		return
	}
	m.cacheRefresh.Inc()
}
