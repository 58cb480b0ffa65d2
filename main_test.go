package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bundle-cache-go/cache"
	"bundle-cache-go/config"
	"bundle-cache-go/services/archive"
	"bundle-cache-go/services/beatsaver"
	"bundle-cache-go/services/events"
	"bundle-cache-go/services/fetch"
	"bundle-cache-go/services/lrclib"
	"bundle-cache-go/services/upstream"

	"github.com/klauspost/compress/zip"
)

const testToken = "secret"

// fakeUpstream serves the BeatSaver routes at the root and LRCLIB under /api
type fakeUpstream struct {
	server     *httptest.Server
	mapHits    atomic.Int32
	lyricsHits atomic.Int32
	mapUA      atomic.Value
	lyricsUA   atomic.Value
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	archiveData := buildTestArchive(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/maps/latest", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, beatsaver.SearchResponse{Docs: []beatsaver.Map{{ID: "1a", Name: "Latest"}}})
	})
	mux.HandleFunc("/maps/id/", func(w http.ResponseWriter, r *http.Request) {
		f.mapHits.Add(1)
		f.mapUA.Store(r.UserAgent())
		id := strings.TrimPrefix(r.URL.Path, "/maps/id/")
		if id == "missing" {
			http.NotFound(w, r)
			return
		}
		writeTestJSON(w, beatsaver.Map{ID: id, Name: "Map " + id})
	})
	mux.HandleFunc("/search/text/", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, beatsaver.SearchResponse{Docs: []beatsaver.Map{{ID: "s1", Name: r.URL.Query().Get("q")}}})
	})
	mux.HandleFunc("/download/good.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archiveData)
	})
	mux.HandleFunc("/download/bad.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a zip archive"))
	})
	mux.HandleFunc("/api/get", func(w http.ResponseWriter, r *http.Request) {
		f.lyricsHits.Add(1)
		f.lyricsUA.Store(r.UserAgent())
		if r.URL.Query().Get("track_name") != "Known" {
			http.NotFound(w, r)
			return
		}
		plain := "first line\nsecond line"
		writeTestJSON(w, lrclib.Record{
			ID:          7,
			TrackName:   "Known",
			ArtistName:  "Band",
			Duration:    180,
			PlainLyrics: &plain,
		})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func writeTestJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func buildTestArchive(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"Info.dat":       `{"_songName":"Fixture"}`,
		"ExpertPlus.dat": `{"_notes":[]}`,
		"song.egg":       "OggS",
		"cover.jpg":      "JFIF",
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

type testEnv struct {
	srv      *server
	handler  http.Handler
	upstream *fakeUpstream
}

func testConfig(upstreamURL string) config.Config {
	var cfg config.Config
	cfg.Configuration.BeatSaverBaseURL = upstreamURL
	cfg.Configuration.LrclibBaseURL = upstreamURL + "/api"
	cfg.Configuration.BeatSaverUserAgent = "bundle-cache-go-maps-test"
	cfg.Configuration.LrclibClientID = "bundle-cache-go-test"
	cfg.Configuration.UpstreamTimeoutSeconds = 2
	cfg.Configuration.CircuitBreakerThreshold = 5
	cfg.Configuration.CircuitBreakerCooldownSecs = 60
	cfg.Configuration.RateLimitPerSecond = 1000
	cfg.Configuration.RateLimitBurstLimit = 1000
	cfg.Configuration.CacheAccessToken = testToken
	return cfg
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	up := newFakeUpstream(t)
	tmpDir := t.TempDir()
	pc, err := cache.NewPersistentCache(filepath.Join(tmpDir, "cache.db"), filepath.Join(tmpDir, "backups"), false, cacheBuckets()...)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	cfg := testConfig(up.server.URL)
	s := newServer(cfg, pc, events.New(16))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { s.beatsaver.Run(ctx); done <- struct{}{} }()
	go func() { s.lyrics.Run(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	return &testEnv{srv: s, handler: newHandler(cfg, s), upstream: up}
}

func (e *testEnv) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeTestBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
}

func waitResult(t *testing.T, sub *events.Subscription) fetch.Result {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev.Payload.(fetch.Result)
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for fetch result")
	}
	return fetch.Result{}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"invalid request", fmt.Errorf("%w: page must not be negative", fetch.ErrInvalidRequest), http.StatusBadRequest},
		{"corrupt archive", fmt.Errorf("extract map 1a: %w", &archive.Error{Kind: archive.KindCorruptContainer}), http.StatusUnprocessableEntity},
		{"missing audio", &archive.Error{Kind: archive.KindMissingAudio}, http.StatusUnprocessableEntity},
		{"upstream 404", &upstream.Error{Service: "beatsaver", Kind: upstream.KindHTTPStatus, StatusCode: 404, Err: upstream.ErrNotFound}, http.StatusNotFound},
		{"upstream 500", upstream.StatusError("beatsaver", 500), http.StatusBadGateway},
		{"upstream body parse", upstream.ParseError("lyrics", errors.New("unexpected EOF")), http.StatusBadGateway},
		{"upstream network", upstream.NetworkError("lyrics", errors.New("connection refused")), http.StatusServiceUnavailable},
		{"storage", &cache.Error{Op: "set", Bucket: "lyrics", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.expected {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.expected)
			}
		})
	}
}

func TestGetMap_CachedAfterFirstFetch(t *testing.T) {
	env := setupTestEnv(t)

	for i := 0; i < 2; i++ {
		rec := env.do("GET", "/beatsaver/maps/1a", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
		var m beatsaver.Map
		decodeTestBody(t, rec, &m)
		if m.ID != "1a" || m.Name != "Map 1a" {
			t.Errorf("Unexpected map: %+v", m)
		}
		if got := rec.Header().Get("X-Upstream-Service"); got != beatsaver.ServiceName {
			t.Errorf("X-Upstream-Service = %q, want %q", got, beatsaver.ServiceName)
		}
	}

	if hits := env.upstream.mapHits.Load(); hits != 1 {
		t.Errorf("Expected one upstream call, got %d", hits)
	}
}

func TestGetMap_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do("GET", "/beatsaver/maps/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestBrowseMaps(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name       string
		category   string
		wantStatus int
	}{
		{"upper case", "LAST_PUBLISHED", http.StatusOK},
		{"lower case", "curated", http.StatusOK},
		{"unknown", "TRENDING", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do("GET", "/beatsaver/browse/"+tt.category, "", nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSearchMaps(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"plain query", "q=hello", http.StatusOK},
		{"with filters", "q=hello&tags=pop,rock&minBpm=120&verified=true&page=2", http.StatusOK},
		{"bad float", "q=hello&minBpm=fast", http.StatusBadRequest},
		{"bad bool", "q=hello&curated=maybe", http.StatusBadRequest},
		{"bad page", "q=hello&page=two", http.StatusBadRequest},
		{"negative page", "q=hello&page=-1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do("GET", "/beatsaver/search?"+tt.query, "", nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDownloadMap_MissThenHit(t *testing.T) {
	env := setupTestEnv(t)
	body := fmt.Sprintf(`{"url":%q}`, env.upstream.server.URL+"/download/good.zip")

	rec := env.do("GET", "/beatsaver/maps/1a/download/status", "", nil)
	var status artifactStatusResponse
	decodeTestBody(t, rec, &status)
	if status.Cached {
		t.Fatal("Expected map not to be cached yet")
	}

	for _, want := range []string{"MISS", "HIT"} {
		rec := env.do("POST", "/beatsaver/maps/1a/download", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-Cache-Status"); got != want {
			t.Errorf("X-Cache-Status = %q, want %q", got, want)
		}
		var bundle archive.Bundle
		decodeTestBody(t, rec, &bundle)
		if bundle.InfoDat != `{"_songName":"Fixture"}` {
			t.Errorf("Unexpected info descriptor: %q", bundle.InfoDat)
		}
	}

	rec = env.do("GET", "/beatsaver/maps/1a/download/status", "", nil)
	decodeTestBody(t, rec, &status)
	if !status.Cached {
		t.Error("Expected map to be cached after download")
	}
}

func TestDownloadMap_Errors(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"corrupt archive", fmt.Sprintf(`{"url":%q}`, env.upstream.server.URL+"/download/bad.zip"), http.StatusUnprocessableEntity},
		{"relative url", `{"url":"/download/good.zip"}`, http.StatusBadRequest},
		{"malformed body", `{"url":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do("POST", "/beatsaver/maps/2b/download", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	if env.srv.beatsaver.HasArtifact("2b") {
		t.Error("Expected failed downloads not to be cached")
	}
}

func TestEnqueueMapDownload(t *testing.T) {
	env := setupTestEnv(t)
	sub := env.srv.bus.Subscribe(events.TopicBeatSaverResult, 4)
	defer sub.Close()

	body := fmt.Sprintf(`{"url":%q}`, env.upstream.server.URL+"/download/good.zip")
	rec := env.do("POST", "/beatsaver/maps/1a/download/enqueue", body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp enqueueResponse
	decodeTestBody(t, rec, &resp)
	if resp.CacheKey != "1a" {
		t.Errorf("cacheKey = %q, want %q", resp.CacheKey, "1a")
	}

	result := waitResult(t, sub)
	if result.CacheKey != "1a" || result.Status != fetch.StatusSuccess {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestLyricsFetchAndCacheCheck(t *testing.T) {
	env := setupTestEnv(t)
	sub := env.srv.bus.Subscribe(events.TopicLyricsResult, 4)
	defer sub.Close()

	rec := env.do("GET", "/lyrics/cache?track=Known&artist=Band", "", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("Expected null before lookup, got %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do("POST", "/lyrics/fetch", `{"trackName":"Known","artistName":"Band"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp enqueueResponse
	decodeTestBody(t, rec, &resp)
	if resp.CacheKey != "band:known" {
		t.Errorf("cacheKey = %q, want %q", resp.CacheKey, "band:known")
	}

	if result := waitResult(t, sub); result.Status != fetch.StatusSuccess {
		t.Fatalf("Unexpected result: %+v", result)
	}

	rec = env.do("GET", "/lyrics/cache?track=Known&artist=Band", "", nil)
	var entry lrclib.CacheEntry
	decodeTestBody(t, rec, &entry)
	if !entry.Found || entry.Data == nil || entry.Data.ID != 7 {
		t.Errorf("Unexpected cache entry: %+v", entry)
	}

	rec = env.do("GET", "/lyrics/cache/has?track=Known&artist=Band", "", nil)
	var status lrclib.CacheStatus
	decodeTestBody(t, rec, &status)
	if !status.Found || !status.HasLyrics {
		t.Errorf("Unexpected cache status: %+v", status)
	}
}

func TestLyricsFetch_NotFoundIsCached(t *testing.T) {
	env := setupTestEnv(t)
	sub := env.srv.bus.Subscribe(events.TopicLyricsResult, 4)
	defer sub.Close()

	for i := 0; i < 2; i++ {
		rec := env.do("POST", "/lyrics/fetch", `{"trackName":"Unknown"}`, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("Expected 202, got %d", rec.Code)
		}
		if result := waitResult(t, sub); result.Status != fetch.StatusNotFound {
			t.Errorf("Expected not_found, got %+v", result)
		}
	}

	if hits := env.upstream.lyricsHits.Load(); hits != 1 {
		t.Errorf("Expected one upstream lookup, got %d", hits)
	}

	rec := env.do("GET", "/lyrics/cache?track=Unknown", "", nil)
	var entry lrclib.CacheEntry
	decodeTestBody(t, rec, &entry)
	if entry.Found || entry.Data != nil {
		t.Errorf("Expected a cached miss, got %+v", entry)
	}
}

func TestLyricsValidation(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"cache check without track", "GET", "/lyrics/cache?artist=Band", ""},
		{"has check without track", "GET", "/lyrics/cache/has", ""},
		{"fetch without track", "POST", "/lyrics/fetch", `{"artistName":"Band"}`},
		{"fetch with blank track", "POST", "/lyrics/fetch", `{"trackName":"  "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.target, tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStreamEvents(t *testing.T) {
	env := setupTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/events?topic="+url.QueryEscape(string(events.TopicLyricsResult)), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	readLine := func() string {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("Stream closed unexpectedly")
			}
			return line
		case <-time.After(3 * time.Second):
			t.Fatal("Timed out reading stream")
		}
		return ""
	}

	if line := readLine(); line != ": connected" {
		t.Fatalf("Expected connected comment, got %q", line)
	}

	rec := env.do("POST", "/lyrics/fetch", `{"trackName":"Known","artistName":"Band"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}

	var eventLine, dataLine string
	for dataLine == "" {
		line := readLine()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = line
		case strings.HasPrefix(line, "data: "):
			dataLine = line
		}
	}

	if eventLine != "event: "+string(events.TopicLyricsResult) {
		t.Errorf("Unexpected event line %q", eventLine)
	}
	var result struct {
		CacheKey string `json:"cacheKey"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &result); err != nil {
		t.Fatalf("Failed to decode data line: %v", err)
	}
	if result.CacheKey != "band:known" || result.Status != string(fetch.StatusSuccess) {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestStreamEvents_UnknownTopic(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do("GET", "/events?topic=nope", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestAdminEndpoints_RequireToken(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name       string
		method     string
		target     string
		header     map[string]string
		wantStatus int
	}{
		{"cache without token", "GET", "/cache", nil, http.StatusUnauthorized},
		{"cache with wrong token", "GET", "/cache", map[string]string{"Authorization": "wrong"}, http.StatusUnauthorized},
		{"cache with token", "GET", "/cache", map[string]string{"Authorization": testToken}, http.StatusOK},
		{"stats with token", "GET", "/stats", map[string]string{"Authorization": testToken}, http.StatusOK},
		{"backups with token", "GET", "/cache/backups", map[string]string{"Authorization": testToken}, http.StatusOK},
		{"breakers without token", "GET", "/circuit-breaker", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.target, "", tt.header)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAdminEndpoints_DisabledWithoutToken(t *testing.T) {
	env := setupTestEnv(t)
	env.srv.accessToken = ""

	rec := env.do("GET", "/cache", "", map[string]string{"Authorization": ""})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

func TestClearBucket(t *testing.T) {
	env := setupTestEnv(t)
	auth := map[string]string{"Authorization": testToken}

	env.do("GET", "/beatsaver/maps/1a", "", nil)
	env.do("GET", "/beatsaver/maps/1a", "", nil)
	if hits := env.upstream.mapHits.Load(); hits != 1 {
		t.Fatalf("Expected map to be cached, got %d upstream hits", hits)
	}

	rec := env.do("POST", "/cache/clear/"+beatsaver.BucketMaps, "", auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env.do("GET", "/beatsaver/maps/1a", "", nil)
	if hits := env.upstream.mapHits.Load(); hits != 2 {
		t.Errorf("Expected refetch after clear, got %d upstream hits", hits)
	}

	rec = env.do("GET", "/cache/backups", "", auth)
	var backups struct {
		Count int `json:"count"`
	}
	decodeTestBody(t, rec, &backups)
	if backups.Count != 1 {
		t.Errorf("Expected one backup from the clear, got %d", backups.Count)
	}

	for _, bucket := range []string{"nope", "stats"} {
		rec := env.do("POST", "/cache/clear/"+bucket, "", auth)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Clearing %q: expected 400, got %d", bucket, rec.Code)
		}
	}
}

func TestCacheStats(t *testing.T) {
	env := setupTestEnv(t)
	env.do("GET", "/beatsaver/maps/1a", "", nil)

	rec := env.do("GET", "/cache", "", map[string]string{"Authorization": testToken})
	var resp CacheStatsResponse
	decodeTestBody(t, rec, &resp)

	maps, ok := resp.Buckets[beatsaver.BucketMaps]
	if !ok || maps.Keys != 1 || !maps.InMemory {
		t.Errorf("Unexpected maps bucket summary: %+v", maps)
	}
	if downloads := resp.Buckets[beatsaver.BucketDownloads]; downloads.InMemory {
		t.Error("Expected downloads bucket to be disk-only")
	}
	if resp.TotalKeys < 1 {
		t.Errorf("Expected at least one key, got %d", resp.TotalKeys)
	}
}

func TestHealthStatus(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do("GET", "/health", "", nil)
	var resp struct {
		Status   string            `json:"status"`
		Breakers map[string]string `json:"circuit_breakers"`
	}
	decodeTestBody(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("Expected ok, got %q", resp.Status)
	}

	breaker := env.srv.breakerByName(lrclib.ServiceName)
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}

	rec = env.do("GET", "/health", "", nil)
	decodeTestBody(t, rec, &resp)
	if resp.Status != "degraded" || resp.Breakers[lrclib.ServiceName] != "OPEN" {
		t.Errorf("Expected degraded with open lyrics breaker, got %+v", resp)
	}
}

func TestResetCircuitBreaker(t *testing.T) {
	env := setupTestEnv(t)
	auth := map[string]string{"Authorization": testToken}

	breaker := env.srv.breakerByName(beatsaver.ServiceName)
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}

	rec := env.do("POST", "/circuit-breaker/reset?service=nope", "", auth)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown breaker, got %d", rec.Code)
	}

	rec = env.do("POST", "/circuit-breaker/reset?service="+beatsaver.ServiceName, "", auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if breaker.State().String() != "CLOSED" {
		t.Errorf("Expected CLOSED after reset, got %s", breaker.State())
	}
}

func TestMetricsDisabled(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do("GET", "/metrics", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with metrics disabled, got %d", rec.Code)
	}
}

func TestCachedMapWriteAndEvict(t *testing.T) {
	env := setupTestEnv(t)
	auth := map[string]string{"Authorization": testToken}

	rec := env.do("PUT", "/cache/maps/9z", `{"name":"Local"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}

	rec = env.do("PUT", "/cache/maps/9z", `{"id":"other","name":"Local"}`, auth)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for mismatched id, got %d", rec.Code)
	}

	rec = env.do("PUT", "/cache/maps/9z", `{"name":"Local"}`, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do("GET", "/beatsaver/maps/9z", "", nil)
	var m beatsaver.Map
	decodeTestBody(t, rec, &m)
	if m.ID != "9z" || m.Name != "Local" {
		t.Errorf("Expected stored map, got %+v", m)
	}
	if hits := env.upstream.mapHits.Load(); hits != 0 {
		t.Errorf("Expected no upstream call for a stored map, got %d", hits)
	}

	rec = env.do("GET", "/cache/keys/"+beatsaver.BucketMaps, "", auth)
	var keys cacheKeysResponse
	decodeTestBody(t, rec, &keys)
	if keys.Count != 1 || len(keys.Keys) != 1 || keys.Keys[0] != "9z" || keys.Truncated {
		t.Errorf("Unexpected key listing: %+v", keys)
	}

	rec = env.do("DELETE", "/cache/maps/9z", "", auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from evict, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do("GET", "/beatsaver/maps/9z", "", nil)
	m = beatsaver.Map{}
	decodeTestBody(t, rec, &m)
	if m.Name != "Map 9z" {
		t.Errorf("Expected upstream map after evict, got %+v", m)
	}
	if hits := env.upstream.mapHits.Load(); hits != 1 {
		t.Errorf("Expected one upstream call after evict, got %d", hits)
	}
}

func TestCachedMapWrite_StorageFailure(t *testing.T) {
	env := setupTestEnv(t)
	if err := env.srv.cache.Close(); err != nil {
		t.Fatalf("Failed to close cache: %v", err)
	}

	rec := env.do("PUT", "/cache/maps/1a", `{"name":"Local"}`, map[string]string{"Authorization": testToken})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 when the write fails, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListCacheKeys_Validation(t *testing.T) {
	env := setupTestEnv(t)
	auth := map[string]string{"Authorization": testToken}

	for i := 0; i < 3; i++ {
		env.do("GET", fmt.Sprintf("/beatsaver/maps/m%d", i), "", nil)
	}

	rec := env.do("GET", "/cache/keys/"+beatsaver.BucketMaps+"?limit=2", "", auth)
	var keys cacheKeysResponse
	decodeTestBody(t, rec, &keys)
	if keys.Count != 2 || !keys.Truncated {
		t.Errorf("Expected two keys and truncation, got %+v", keys)
	}

	tests := []struct {
		name   string
		target string
	}{
		{"unknown bucket", "/cache/keys/nope"},
		{"stats bucket", "/cache/keys/stats"},
		{"zero limit", "/cache/keys/" + beatsaver.BucketMaps + "?limit=0"},
		{"bad limit", "/cache/keys/" + beatsaver.BucketMaps + "?limit=many"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do("GET", tt.target, "", auth); rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestUpstreamUserAgentPerService(t *testing.T) {
	env := setupTestEnv(t)
	sub := env.srv.bus.Subscribe(events.TopicLyricsResult, 4)
	defer sub.Close()

	env.do("GET", "/beatsaver/maps/1a", "", nil)
	env.do("POST", "/lyrics/fetch", `{"trackName":"Known","artistName":"Band"}`, nil)
	waitResult(t, sub)

	if ua, _ := env.upstream.mapUA.Load().(string); ua != "bundle-cache-go-maps-test" {
		t.Errorf("BeatSaver User-Agent = %q, want bundle-cache-go-maps-test", ua)
	}
	if ua, _ := env.upstream.lyricsUA.Load().(string); ua != "bundle-cache-go-test" {
		t.Errorf("LRCLIB User-Agent = %q, want bundle-cache-go-test", ua)
	}
}
