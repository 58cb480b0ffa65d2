package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bundlecache"

// Metrics exposes the same counters as Stats in Prometheus form.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// RequestsTotal counts HTTP requests by route group
	// ("beatsaver", "lyrics", "events", "cache", "stats", "health", "other").
	RequestsTotal *prometheus.CounterVec

	// ResponsesTotal counts HTTP responses by status class ("2xx", "4xx", "5xx").
	ResponsesTotal *prometheus.CounterVec

	// RequestDuration observes handler latency in seconds.
	RequestDuration prometheus.Histogram

	// CacheLookupsTotal counts cache lookups by outcome ("hit", "miss", "negative").
	CacheLookupsTotal *prometheus.CounterVec

	// FetchResultsTotal counts worker results by service and terminal status.
	FetchResultsTotal *prometheus.CounterVec

	// UpstreamRequestsTotal counts outgoing upstream calls by service and outcome.
	UpstreamRequestsTotal *prometheus.CounterVec

	// QueueDepth tracks waiting entries per service queue.
	QueueDepth *prometheus.GaugeVec

	// RateLimitedTotal counts requests rejected by the per-IP limiter.
	RateLimitedTotal prometheus.Counter
}

// NewMetrics creates and registers metrics with the given registerer.
// If reg is nil, metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route group",
		}, []string{"group"}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "Total number of HTTP responses by status class",
		}, []string{"class"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP handler latency",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by outcome",
		}, []string{"result"}),
		FetchResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "results_total",
			Help:      "Total number of background fetch results by service and status",
		}, []string{"service", "status"}),
		UpstreamRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream calls by service and outcome",
		}, []string{"service", "outcome"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "queue_depth",
			Help:      "Number of requests waiting in each service queue",
		}, []string{"service"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal,
			m.ResponsesTotal,
			m.RequestDuration,
			m.CacheLookupsTotal,
			m.FetchResultsTotal,
			m.UpstreamRequestsTotal,
			m.QueueDepth,
			m.RateLimitedTotal,
		)
	}

	return m
}

func (m *Metrics) recordRequest(group string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(group).Inc()
}

func (m *Metrics) recordResponse(class string, seconds float64) {
	if m == nil {
		return
	}
	if class != "" {
		m.ResponsesTotal.WithLabelValues(class).Inc()
	}
	m.RequestDuration.Observe(seconds)
}

func (m *Metrics) recordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordFetchResult(service, status string) {
	if m == nil {
		return
	}
	m.FetchResultsTotal.WithLabelValues(service, status).Inc()
}

func (m *Metrics) recordUpstream(service, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) setQueueDepth(service string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(service).Set(float64(depth))
}

func (m *Metrics) recordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
