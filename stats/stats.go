package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats holds all server statistics with atomic counters
type Stats struct {
	// Server info
	StartTime time.Time

	// Request counters
	TotalRequests     atomic.Int64
	BeatSaverRequests atomic.Int64
	LyricsRequests    atomic.Int64
	EventsRequests    atomic.Int64
	CacheRequests     atomic.Int64
	StatsRequests     atomic.Int64
	HealthRequests    atomic.Int64
	OtherRequests     atomic.Int64

	// Cache performance
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	NegativeCacheHits atomic.Int64

	// Rate limiting
	RateLimitAllowed  atomic.Int64
	RateLimitExceeded atomic.Int64 // Requests rejected (429)

	// Response status codes
	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	// Response time tracking (in microseconds for precision)
	totalResponseTime atomic.Int64
	responseCount     atomic.Int64
	minResponseTime   atomic.Int64
	maxResponseTime   atomic.Int64

	// Fetch results keyed by "service:status"
	fetchResults sync.Map

	// Upstream calls keyed by "service:outcome"
	upstreamCalls sync.Map

	metrics atomic.Pointer[Metrics]
}

const maxInt64 = int64(^uint64(0) >> 1)

// Global stats instance
var global = newStats()

func newStats() *Stats {
	s := &Stats{StartTime: time.Now()}
	s.minResponseTime.Store(maxInt64)
	return s
}

// Get returns the global stats instance
func Get() *Stats {
	return global
}

// EnableMetrics mirrors every recorded counter into Prometheus collectors
// registered with reg, and returns them.
func (s *Stats) EnableMetrics(reg prometheus.Registerer) *Metrics {
	m := NewMetrics(reg)
	s.metrics.Store(m)
	return m
}

// routeGroup maps a request path to its counter bucket
func routeGroup(path string) string {
	switch {
	case hasPrefix(path, "/beatsaver"):
		return "beatsaver"
	case hasPrefix(path, "/lyrics"):
		return "lyrics"
	case hasPrefix(path, "/events"):
		return "events"
	case hasPrefix(path, "/cache"):
		return "cache"
	case path == "/stats" || path == "/metrics":
		return "stats"
	case path == "/health":
		return "health"
	default:
		return "other"
	}
}

func hasPrefix(path, prefix string) bool {
	return path == prefix || (len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/')
}

// RecordRequest records a request to a specific endpoint
func (s *Stats) RecordRequest(path string) {
	s.TotalRequests.Add(1)
	group := routeGroup(path)
	switch group {
	case "beatsaver":
		s.BeatSaverRequests.Add(1)
	case "lyrics":
		s.LyricsRequests.Add(1)
	case "events":
		s.EventsRequests.Add(1)
	case "cache":
		s.CacheRequests.Add(1)
	case "stats":
		s.StatsRequests.Add(1)
	case "health":
		s.HealthRequests.Add(1)
	default:
		s.OtherRequests.Add(1)
	}
	s.metrics.Load().recordRequest(group)
}

// RecordCacheHit records a cache hit
func (s *Stats) RecordCacheHit() {
	s.CacheHits.Add(1)
	s.metrics.Load().recordCacheLookup("hit")
}

// RecordCacheMiss records a cache miss
func (s *Stats) RecordCacheMiss() {
	s.CacheMisses.Add(1)
	s.metrics.Load().recordCacheLookup("miss")
}

// RecordNegativeCacheHit records a hit on a cached "not found" verdict
func (s *Stats) RecordNegativeCacheHit() {
	s.NegativeCacheHits.Add(1)
	s.metrics.Load().recordCacheLookup("negative")
}

// RecordRateLimit records whether the limiter let a request through
func (s *Stats) RecordRateLimit(allowed bool) {
	if allowed {
		s.RateLimitAllowed.Add(1)
		return
	}
	s.RateLimitExceeded.Add(1)
	s.metrics.Load().recordRateLimited()
}

func incr(m *sync.Map, key string) {
	counter, _ := m.LoadOrStore(key, &atomic.Int64{})
	counter.(*atomic.Int64).Add(1)
}

func snapshot(m *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Range(func(k, v interface{}) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// RecordFetchResult counts one worker result
func (s *Stats) RecordFetchResult(service, status string) {
	incr(&s.fetchResults, service+":"+status)
	s.metrics.Load().recordFetchResult(service, status)
}

// FetchResultsSnapshot returns worker result counts keyed by "service:status"
func (s *Stats) FetchResultsSnapshot() map[string]int64 {
	return snapshot(&s.fetchResults)
}

// RecordUpstream counts one upstream call; outcome is "ok", "not_found", "error" or "rejected".
func (s *Stats) RecordUpstream(service, outcome string) {
	incr(&s.upstreamCalls, service+":"+outcome)
	s.metrics.Load().recordUpstream(service, outcome)
}

// UpstreamSnapshot returns upstream call counts keyed by "service:outcome"
func (s *Stats) UpstreamSnapshot() map[string]int64 {
	return snapshot(&s.upstreamCalls)
}

// SetQueueDepth publishes the current depth of a service queue
func (s *Stats) SetQueueDepth(service string, depth int) {
	s.metrics.Load().setQueueDepth(service, depth)
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	}
	return ""
}

// RecordResponse records a response status code and handler latency
func (s *Stats) RecordResponse(code int, duration time.Duration) {
	class := statusClass(code)
	switch class {
	case "2xx":
		s.Status2xx.Add(1)
	case "4xx":
		s.Status4xx.Add(1)
	case "5xx":
		s.Status5xx.Add(1)
	}

	us := duration.Microseconds()
	s.totalResponseTime.Add(us)
	s.responseCount.Add(1)

	for {
		current := s.minResponseTime.Load()
		if us >= current || s.minResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
	for {
		current := s.maxResponseTime.Load()
		if us <= current || s.maxResponseTime.CompareAndSwap(current, us) {
			break
		}
	}

	s.metrics.Load().recordResponse(class, duration.Seconds())
}

// Uptime returns the server uptime
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// CacheHitRate returns the cache hit rate as a percentage
func (s *Stats) CacheHitRate() float64 {
	hits := s.CacheHits.Load() + s.NegativeCacheHits.Load()
	total := hits + s.CacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// AvgResponseTime returns the average response time
func (s *Stats) AvgResponseTime() time.Duration {
	count := s.responseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.totalResponseTime.Load()/count) * time.Microsecond
}

// MinResponseTime returns the minimum response time
func (s *Stats) MinResponseTime() time.Duration {
	min := s.minResponseTime.Load()
	if min == maxInt64 {
		return 0
	}
	return time.Duration(min) * time.Microsecond
}

// MaxResponseTime returns the maximum response time
func (s *Stats) MaxResponseTime() time.Duration {
	return time.Duration(s.maxResponseTime.Load()) * time.Microsecond
}

// Snapshot returns a point-in-time snapshot of all stats
func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests": map[string]interface{}{
			"total":     s.TotalRequests.Load(),
			"beatsaver": s.BeatSaverRequests.Load(),
			"lyrics":    s.LyricsRequests.Load(),
			"events":    s.EventsRequests.Load(),
			"cache":     s.CacheRequests.Load(),
			"stats":     s.StatsRequests.Load(),
			"health":    s.HealthRequests.Load(),
			"other":     s.OtherRequests.Load(),
		},
		"cache": map[string]interface{}{
			"hits":          s.CacheHits.Load(),
			"misses":        s.CacheMisses.Load(),
			"negative_hits": s.NegativeCacheHits.Load(),
			"hit_rate":      s.CacheHitRate(),
		},
		"rate_limiting": map[string]interface{}{
			"allowed":  s.RateLimitAllowed.Load(),
			"exceeded": s.RateLimitExceeded.Load(),
		},
		"responses": map[string]interface{}{
			"2xx": s.Status2xx.Load(),
			"4xx": s.Status4xx.Load(),
			"5xx": s.Status5xx.Load(),
		},
		"response_times": map[string]interface{}{
			"avg": s.AvgResponseTime().String(),
			"min": s.MinResponseTime().String(),
			"max": s.MaxResponseTime().String(),
		},
		"fetch_results": s.FetchResultsSnapshot(),
		"upstream":      s.UpstreamSnapshot(),
	}
}
