package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bundle-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const (
	// BucketName is the cache bucket the store writes into
	BucketName = "stats"
	statsKey   = "server_stats"
)

// Backend is the JSON key-value store the stats are persisted in.
type Backend interface {
	GetJSON(bucket, key string, v interface{}) (bool, error)
	SetJSON(bucket, key string, v interface{}) error
}

// Store persists cumulative counters across restarts
type Store struct {
	backend  Backend
	stats    *Stats
	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PersistedStats represents the stats data that gets persisted to disk
type PersistedStats struct {
	// Cumulative counters (these accumulate across restarts)
	TotalRequests     int64 `json:"total_requests"`
	BeatSaverRequests int64 `json:"beatsaver_requests"`
	LyricsRequests    int64 `json:"lyrics_requests"`
	EventsRequests    int64 `json:"events_requests"`
	CacheRequests     int64 `json:"cache_requests"`
	StatsRequests     int64 `json:"stats_requests"`
	HealthRequests    int64 `json:"health_requests"`
	OtherRequests     int64 `json:"other_requests"`
	CacheHits         int64 `json:"cache_hits"`
	CacheMisses       int64 `json:"cache_misses"`
	NegativeCacheHits int64 `json:"negative_cache_hits"`
	RateLimitAllowed  int64 `json:"rate_limit_allowed"`
	RateLimitExceeded int64 `json:"rate_limit_exceeded"`
	Status2xx         int64 `json:"status_2xx"`
	Status4xx         int64 `json:"status_4xx"`
	Status5xx         int64 `json:"status_5xx"`

	// Response time tracking
	TotalResponseTime int64 `json:"total_response_time"`
	ResponseCount     int64 `json:"response_count"`
	MinResponseTime   int64 `json:"min_response_time"`
	MaxResponseTime   int64 `json:"max_response_time"`

	FetchResults  map[string]int64 `json:"fetch_results"`
	UpstreamCalls map[string]int64 `json:"upstream_calls"`

	// Metadata
	LastSaved    time.Time `json:"last_saved"`
	FirstStarted time.Time `json:"first_started"`
}

// NewStore binds the global stats to a backend
func NewStore(backend Backend) *Store {
	return newStore(backend, Get())
}

func newStore(backend Backend, s *Stats) *Store {
	return &Store{
		backend:  backend,
		stats:    s,
		stopChan: make(chan struct{}),
	}
}

func restore(m *sync.Map, values map[string]int64) {
	for name, count := range values {
		counter := &atomic.Int64{}
		counter.Store(count)
		m.Store(name, counter)
	}
}

// Load reads persisted stats and applies them to the live counters
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var persisted PersistedStats
	found, err := s.backend.GetJSON(BucketName, statsKey, &persisted)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	if !found {
		log.Infof("%s No persisted stats yet", logcolors.LogStats)
		return nil
	}

	st := s.stats
	st.TotalRequests.Store(persisted.TotalRequests)
	st.BeatSaverRequests.Store(persisted.BeatSaverRequests)
	st.LyricsRequests.Store(persisted.LyricsRequests)
	st.EventsRequests.Store(persisted.EventsRequests)
	st.CacheRequests.Store(persisted.CacheRequests)
	st.StatsRequests.Store(persisted.StatsRequests)
	st.HealthRequests.Store(persisted.HealthRequests)
	st.OtherRequests.Store(persisted.OtherRequests)
	st.CacheHits.Store(persisted.CacheHits)
	st.CacheMisses.Store(persisted.CacheMisses)
	st.NegativeCacheHits.Store(persisted.NegativeCacheHits)
	st.RateLimitAllowed.Store(persisted.RateLimitAllowed)
	st.RateLimitExceeded.Store(persisted.RateLimitExceeded)
	st.Status2xx.Store(persisted.Status2xx)
	st.Status4xx.Store(persisted.Status4xx)
	st.Status5xx.Store(persisted.Status5xx)
	st.totalResponseTime.Store(persisted.TotalResponseTime)
	st.responseCount.Store(persisted.ResponseCount)

	// Only update min/max if we have valid persisted values
	if persisted.MinResponseTime > 0 && persisted.MinResponseTime < maxInt64 {
		st.minResponseTime.Store(persisted.MinResponseTime)
	}
	if persisted.MaxResponseTime > 0 {
		st.maxResponseTime.Store(persisted.MaxResponseTime)
	}

	restore(&st.fetchResults, persisted.FetchResults)
	restore(&st.upstreamCalls, persisted.UpstreamCalls)

	// Preserve the original first start time if available
	if !persisted.FirstStarted.IsZero() {
		st.StartTime = persisted.FirstStarted
	}

	log.Infof("%s Loaded persisted stats (total requests: %d, first started: %s)",
		logcolors.LogStats, persisted.TotalRequests, persisted.FirstStarted.Format(time.RFC3339))
	return nil
}

// Save persists current stats
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	persisted := PersistedStats{
		TotalRequests:     st.TotalRequests.Load(),
		BeatSaverRequests: st.BeatSaverRequests.Load(),
		LyricsRequests:    st.LyricsRequests.Load(),
		EventsRequests:    st.EventsRequests.Load(),
		CacheRequests:     st.CacheRequests.Load(),
		StatsRequests:     st.StatsRequests.Load(),
		HealthRequests:    st.HealthRequests.Load(),
		OtherRequests:     st.OtherRequests.Load(),
		CacheHits:         st.CacheHits.Load(),
		CacheMisses:       st.CacheMisses.Load(),
		NegativeCacheHits: st.NegativeCacheHits.Load(),
		RateLimitAllowed:  st.RateLimitAllowed.Load(),
		RateLimitExceeded: st.RateLimitExceeded.Load(),
		Status2xx:         st.Status2xx.Load(),
		Status4xx:         st.Status4xx.Load(),
		Status5xx:         st.Status5xx.Load(),
		TotalResponseTime: st.totalResponseTime.Load(),
		ResponseCount:     st.responseCount.Load(),
		MinResponseTime:   st.minResponseTime.Load(),
		MaxResponseTime:   st.maxResponseTime.Load(),
		FetchResults:      st.FetchResultsSnapshot(),
		UpstreamCalls:     st.UpstreamSnapshot(),
		LastSaved:         time.Now(),
		FirstStarted:      st.StartTime,
	}

	if err := s.backend.SetJSON(BucketName, statsKey, persisted); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}

// StartAutoSave begins periodic saving of stats
func (s *Store) StartAutoSave(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Save(); err != nil {
					log.Warnf("%s Failed to auto-save stats: %v", logcolors.LogStats, err)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
	log.Infof("%s Started auto-save with interval %v", logcolors.LogStats, interval)
}

// Close stops auto-save and writes a final snapshot. The backend stays open.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	if err := s.Save(); err != nil {
		log.Warnf("%s Failed to save stats on close: %v", logcolors.LogStats, err)
		return err
	}
	log.Infof("%s Stats saved on shutdown", logcolors.LogStats)
	return nil
}
