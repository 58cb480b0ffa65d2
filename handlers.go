package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bundle-cache-go/cache"
	"bundle-cache-go/circuitbreaker"
	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/archive"
	"bundle-cache-go/services/beatsaver"
	"bundle-cache-go/services/events"
	"bundle-cache-go/services/fetch"
	"bundle-cache-go/services/lrclib"
	"bundle-cache-go/services/upstream"
	"bundle-cache-go/stats"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// maxBodyBytes bounds command request bodies
const maxBodyBytes = 64 << 10

// sseHeartbeat is the idle interval after which the event stream sends a comment line
var sseHeartbeat = 15 * time.Second

// server carries the services the HTTP handlers operate on
type server struct {
	cache       *cache.PersistentCache
	beatsaver   *beatsaver.Service
	lyrics      *lrclib.Service
	bus         *events.Bus
	breakers    []*circuitbreaker.CircuitBreaker
	accessToken string
	metrics     http.Handler

	// buckets the admin endpoints may clear
	clearableBuckets []string
}

// statusForError maps the error taxonomy to an HTTP status code
func statusForError(err error) int {
	var archiveErr *archive.Error
	var cacheErr *cache.Error

	switch {
	case errors.Is(err, fetch.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &archiveErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound
	case upstream.KindOf(err) == upstream.KindNetwork:
		return http.StatusServiceUnavailable
	case upstream.KindOf(err) != "":
		return http.StatusBadGateway
	case errors.As(err, &cacheErr):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryParser reads typed query parameters, keeping the first parse error
type queryParser struct {
	values map[string][]string
	err    error
}

func newQueryParser(r *http.Request) *queryParser {
	return &queryParser{values: r.URL.Query()}
}

func (p *queryParser) str(key string) string {
	if v := p.values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// optStr returns nil when key is absent, so an empty value stays distinguishable
func (p *queryParser) optStr(key string) *string {
	if v, ok := p.values[key]; ok && len(v) > 0 {
		return &v[0]
	}
	return nil
}

func (p *queryParser) list(key string) []string {
	var out []string
	for _, part := range strings.Split(p.str(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *queryParser) integer(key string, def int) int {
	raw := p.str(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %s must be an integer", fetch.ErrInvalidRequest, key)
	}
	return v
}

func (p *queryParser) float(key string) *float64 {
	raw := p.str(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("%w: %s must be a number", fetch.ErrInvalidRequest, key)
		}
		return nil
	}
	return &v
}

func (p *queryParser) boolean(key string) *bool {
	raw := p.str(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("%w: %s must be true or false", fetch.ErrInvalidRequest, key)
		}
		return nil
	}
	return &v
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", fetch.ErrInvalidRequest, err)
	}
	return nil
}

// Map handlers

func (s *server) searchMaps(w http.ResponseWriter, r *http.Request) {
	p := newQueryParser(r)

	filters := beatsaver.DefaultSearchFilters()
	if sortOrder := p.str("sortOrder"); sortOrder != "" {
		filters.SortOrder = sortOrder
	}
	filters.Tags = p.list("tags")
	filters.ExcludeTags = p.list("excludeTags")
	filters.MinBPM = p.float("minBpm")
	filters.MaxBPM = p.float("maxBpm")
	filters.MinNPS = p.float("minNps")
	filters.MaxNPS = p.float("maxNps")
	filters.MinDuration = p.float("minDuration")
	filters.MaxDuration = p.float("maxDuration")
	filters.MinRating = p.float("minRating")
	filters.MaxRating = p.float("maxRating")
	filters.Curated = p.boolean("curated")
	filters.Verified = p.boolean("verified")
	filters.Automapper = p.boolean("automapper")
	filters.From = p.str("from")
	filters.To = p.str("to")
	filters.Leaderboard = p.str("leaderboard")
	filters.PageSize = p.integer("pageSize", beatsaver.DefaultPageSize)
	page := p.integer("page", 0)

	if p.err != nil {
		Respond(w).Fail(p.err)
		return
	}

	resp, err := s.beatsaver.Search(r.Context(), p.str("q"), page, filters)
	if err != nil {
		Respond(w).SetService(beatsaver.ServiceName).Fail(err)
		return
	}
	Respond(w).SetService(beatsaver.ServiceName).JSON(resp)
}

func (s *server) browseMaps(w http.ResponseWriter, r *http.Request) {
	p := newQueryParser(r)
	pageSize := p.integer("pageSize", beatsaver.DefaultPageSize)
	if p.err != nil {
		Respond(w).Fail(p.err)
		return
	}

	category := beatsaver.Category(mux.Vars(r)["category"])
	resp, err := s.beatsaver.Browse(r.Context(), category, pageSize)
	if err != nil {
		Respond(w).SetService(beatsaver.ServiceName).Fail(err)
		return
	}
	Respond(w).SetService(beatsaver.ServiceName).JSON(resp)
}

func (s *server) getMap(w http.ResponseWriter, r *http.Request) {
	m, err := s.beatsaver.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		Respond(w).SetService(beatsaver.ServiceName).Fail(err)
		return
	}
	Respond(w).SetService(beatsaver.ServiceName).JSON(m)
}

func (s *server) mapDownloadStatus(w http.ResponseWriter, r *http.Request) {
	Respond(w).JSON(artifactStatusResponse{Cached: s.beatsaver.HasArtifact(mux.Vars(r)["id"])})
}

func (s *server) downloadMap(w http.ResponseWriter, r *http.Request) {
	var body downloadBody
	if err := decodeBody(r, &body); err != nil {
		Respond(w).Fail(err)
		return
	}

	id := mux.Vars(r)["id"]
	cacheStatus := "MISS"
	if s.beatsaver.HasArtifact(id) {
		cacheStatus = "HIT"
	}

	bundle, err := s.beatsaver.FetchArtifactSync(r.Context(), id, body.URL)
	if err != nil {
		Respond(w).SetService(beatsaver.ServiceName).Fail(err)
		return
	}
	Respond(w).SetService(beatsaver.ServiceName).SetCacheStatus(cacheStatus).JSON(bundle)
}

func (s *server) enqueueMapDownload(w http.ResponseWriter, r *http.Request) {
	var body downloadBody
	if err := decodeBody(r, &body); err != nil {
		Respond(w).Fail(err)
		return
	}

	key, err := s.beatsaver.EnqueueArtifactFetch(mux.Vars(r)["id"], body.URL)
	if err != nil {
		Respond(w).Fail(err)
		return
	}
	Respond(w).Status(http.StatusAccepted, enqueueResponse{CacheKey: key})
}

// Lyrics handlers

func (s *server) lyricsCacheCheck(w http.ResponseWriter, r *http.Request) {
	p := newQueryParser(r)
	track := p.optStr("track")
	if track == nil {
		Respond(w).Fail(fmt.Errorf("%w: track is required", fetch.ErrInvalidRequest))
		return
	}

	entry, err := s.lyrics.CacheCheck(*track, p.optStr("artist"))
	if err != nil {
		Respond(w).Fail(err)
		return
	}
	Respond(w).JSON(entry)
}

func (s *server) lyricsCacheHas(w http.ResponseWriter, r *http.Request) {
	p := newQueryParser(r)
	track := p.optStr("track")
	if track == nil {
		Respond(w).Fail(fmt.Errorf("%w: track is required", fetch.ErrInvalidRequest))
		return
	}

	status, err := s.lyrics.CacheHasLyricsText(*track, p.optStr("artist"))
	if err != nil {
		Respond(w).Fail(err)
		return
	}
	Respond(w).JSON(status)
}

func (s *server) enqueueLyricsFetch(w http.ResponseWriter, r *http.Request) {
	var req lrclib.LyricsRequest
	if err := decodeBody(r, &req); err != nil {
		Respond(w).Fail(err)
		return
	}

	key, err := s.lyrics.EnqueueFetch(req)
	if err != nil {
		Respond(w).Fail(err)
		return
	}
	Respond(w).Status(http.StatusAccepted, enqueueResponse{CacheKey: key})
}

// streamEvents relays bus events as Server-Sent Events. ?topic= selects one
// topic; without it every topic is streamed.
func (s *server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Respond(w).Error(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var sub *events.Subscription
	switch topic := events.Topic(r.URL.Query().Get("topic")); topic {
	case "":
		sub = s.bus.SubscribeAll(0)
	case events.TopicBeatSaverResult, events.TopicLyricsResult, events.TopicSystem:
		sub = s.bus.Subscribe(topic, 0)
	default:
		Respond(w).Error(http.StatusBadRequest, fmt.Sprintf("unknown topic %q", topic))
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	topicName := string(sub.Topic())
	if topicName == "" {
		topicName = "all"
	}
	log.Debugf("%s Event stream (%s) opened from %s", logcolors.LogEvents, topicName, r.RemoteAddr)
	defer log.Debugf("%s Event stream closed for %s", logcolors.LogEvents, r.RemoteAddr)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				log.Warnf("%s Failed to encode %s event: %v", logcolors.LogEvents, ev.Topic, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, data)
			flusher.Flush()
		}
	}
}

// Health, stats and circuit breaker handlers

func (s *server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.accessToken == "" {
		Respond(w).Error(http.StatusForbidden, "admin endpoints are disabled (CACHE_ACCESS_TOKEN not set)")
		return false
	}
	if r.Header.Get("Authorization") != s.accessToken {
		Respond(w).Error(http.StatusUnauthorized, "Unauthorized")
		return false
	}
	return true
}

func (s *server) getHealthStatus(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	breakers := make(map[string]string, len(s.breakers))
	for _, cb := range s.breakers {
		state := cb.State()
		breakers[cb.Name()] = state.String()
		if state == circuitbreaker.StateOpen {
			status = "degraded"
		}
	}

	Respond(w).JSON(map[string]interface{}{
		"status":           status,
		"circuit_breakers": breakers,
		"queues": map[string]int{
			beatsaver.ServiceName: s.beatsaver.QueueLen(),
			lrclib.ServiceName:    s.lyrics.QueueLen(),
		},
	})
}

func (s *server) getStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	snapshot := stats.Get().Snapshot()
	snapshot["cache_storage"] = s.cache.Stats()

	breakers := make([]circuitbreaker.Status, 0, len(s.breakers))
	for _, cb := range s.breakers {
		breakers = append(breakers, cb.Status())
	}
	snapshot["circuit_breakers"] = breakers
	snapshot["queues"] = map[string]int{
		beatsaver.ServiceName: s.beatsaver.QueueLen(),
		lrclib.ServiceName:    s.lyrics.QueueLen(),
	}
	snapshot["events"] = map[string]interface{}{
		"dropped":            s.bus.Dropped(),
		"result_subscribers": s.bus.SubscriberCount(events.TopicBeatSaverResult) + s.bus.SubscriberCount(events.TopicLyricsResult),
	}

	Respond(w).JSON(snapshot)
}

func (s *server) breakerByName(name string) *circuitbreaker.CircuitBreaker {
	for _, cb := range s.breakers {
		if cb.Name() == name {
			return cb
		}
	}
	return nil
}

func (s *server) getCircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	out := make([]circuitbreaker.Status, 0, len(s.breakers))
	for _, cb := range s.breakers {
		out = append(out, cb.Status())
	}
	Respond(w).JSON(out)
}

// resetCircuitBreaker closes one breaker (?service=) or all of them
func (s *server) resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	name := r.URL.Query().Get("service")
	if name == "" {
		for _, cb := range s.breakers {
			cb.Reset()
		}
		Respond(w).JSON(map[string]string{"message": "All circuit breakers reset to CLOSED state"})
		return
	}

	cb := s.breakerByName(name)
	if cb == nil {
		Respond(w).Error(http.StatusNotFound, fmt.Sprintf("unknown circuit breaker %q", name))
		return
	}
	cb.Reset()
	Respond(w).JSON(map[string]string{"message": fmt.Sprintf("Circuit breaker %s reset to CLOSED state", name)})
}

func (s *server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		Respond(w).Error(http.StatusNotFound, "metrics are disabled (FF_METRICS=false)")
		return
	}
	s.metrics.ServeHTTP(w, r)
}

func (s *server) helpHandler(w http.ResponseWriter, r *http.Request) {
	Respond(w).JSON(map[string]interface{}{
		"service": "bundle-cache-go",
		"endpoints": map[string]string{
			"GET /beatsaver/search":                      "Search maps (q, page, sortOrder, tags, excludeTags, minBpm..maxRating, curated, verified, automapper, from, to, leaderboard, pageSize)",
			"GET /beatsaver/browse/{category}":           "Browse CURATED, LAST_PUBLISHED, FIRST_PUBLISHED, UPDATED or CREATED maps (cached)",
			"GET /beatsaver/maps/{id}":                   "Map details (cached)",
			"GET /beatsaver/maps/{id}/download/status":   "Whether the map bundle is cached",
			"POST /beatsaver/maps/{id}/download":         "Download and extract a map now, body {url}",
			"POST /beatsaver/maps/{id}/download/enqueue": "Queue a map download, body {url}; result on /events",
			"GET /lyrics/cache":                          "Cached lyrics verdict (track, artist)",
			"GET /lyrics/cache/has":                      "Whether cached lyrics carry text (track, artist)",
			"POST /lyrics/fetch":                         "Queue a lyrics lookup, body {trackName, artistName, albumName, duration}",
			"GET /events":                                "Server-Sent Events stream (topic)",
			"GET /health":                                "Health status",
		},
	})
}
