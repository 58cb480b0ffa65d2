package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"bundle-cache-go/cache"
	"bundle-cache-go/circuitbreaker"
	"bundle-cache-go/config"
	"bundle-cache-go/logcolors"
	"bundle-cache-go/middleware"
	"bundle-cache-go/services/beatsaver"
	"bundle-cache-go/services/events"
	"bundle-cache-go/services/lrclib"
	"bundle-cache-go/services/notifier"
	"bundle-cache-go/services/upstream"
	"bundle-cache-go/stats"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

func setupLogging(cfg config.Config) {
	if strings.EqualFold(cfg.Configuration.LogFormat, "text") {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	log.SetOutput(os.Stdout)

	level, err := log.ParseLevel(cfg.Configuration.LogLevel)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.Configuration.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func setupNotifiers(cfg config.Config) []notifier.Notifier {
	var notifiers []notifier.Notifier

	if topic := cfg.Configuration.NtfyTopic; topic != "" {
		notifiers = append(notifiers, &notifier.NtfyNotifier{
			Topic:  topic,
			Server: cfg.Configuration.NtfyServer,
		})
		log.Infof("%s Ntfy.sh notifier enabled", logcolors.LogNotifier)
	}

	if len(notifiers) == 0 {
		log.Infof("%s No notifiers configured, alerts are logged only", logcolors.LogNotifier)
	}
	return notifiers
}

// newMetricsHandler registers the runtime collectors and the service counters
// on a private registry. Returns nil when metrics are disabled.
func newMetricsHandler(enabled bool) http.Handler {
	if !enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	stats.Get().EnableMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// cacheBuckets lists every bucket the database is opened with
func cacheBuckets() []cache.Bucket {
	buckets := append(beatsaver.Buckets(), lrclib.Buckets()...)
	return append(buckets, cache.Bucket{Name: stats.BucketName, Memory: false})
}

// clearableBuckets are the service buckets; the stats bucket is not exposed
func clearableBuckets() []string {
	var names []string
	for _, b := range append(beatsaver.Buckets(), lrclib.Buckets()...) {
		names = append(names, b.Name)
	}
	return names
}

func newUpstreamClient(cfg config.Config, service, userAgent string, bus *events.Bus, extraHeaders map[string]string) *upstream.Client {
	c := cfg.Configuration
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:      service,
		Threshold: c.CircuitBreakerThreshold,
		Cooldown:  time.Duration(c.CircuitBreakerCooldownSecs) * time.Second,
		Events:    bus,
	})

	return upstream.NewClient(service, upstream.Options{
		Timeout:      time.Duration(c.UpstreamTimeoutSeconds) * time.Second,
		RatePerSec:   c.UpstreamRatePerSecond,
		Burst:        c.UpstreamBurst,
		Breaker:      breaker,
		UserAgent:    userAgent,
		ExtraHeaders: extraHeaders,
	})
}

// newServer wires the services on an opened cache
func newServer(cfg config.Config, pc *cache.PersistentCache, bus *events.Bus) *server {
	c := cfg.Configuration

	bsAPI := newUpstreamClient(cfg, beatsaver.ServiceName, c.BeatSaverUserAgent, bus, nil)
	lyricsAPI := newUpstreamClient(cfg, lrclib.ServiceName, c.LrclibClientID, bus, map[string]string{
		lrclib.ClientHeader: c.LrclibClientID,
	})

	return &server{
		cache:            pc,
		beatsaver:        beatsaver.NewService(beatsaver.NewClient(c.BeatSaverBaseURL, bsAPI), beatsaver.NewMapStore(pc), bus),
		lyrics:           lrclib.NewService(lrclib.NewClient(c.LrclibBaseURL, lyricsAPI), lrclib.NewLyricsStore(pc), bus),
		bus:              bus,
		breakers:         []*circuitbreaker.CircuitBreaker{bsAPI.Breaker(), lyricsAPI.Breaker()},
		accessToken:      c.CacheAccessToken,
		clearableBuckets: clearableBuckets(),
	}
}

// newHandler builds the router and the middleware chain around it
func newHandler(cfg config.Config, s *server) http.Handler {
	router := mux.NewRouter()
	s.routes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
		ExposedHeaders:   []string{"X-Cache-Status", "X-Upstream-Service", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
	})

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.Configuration.RateLimitPerSecond), cfg.Configuration.RateLimitBurstLimit)

	var handler http.Handler = router
	handler = middleware.RateLimitMiddleware(limiter, cfg.Configuration.APIKey)(handler)
	handler = middleware.APIKeyMiddleware(cfg.Configuration.APIKey, cfg.Configuration.APIKeyRequired, []string{"/", "/health", "/metrics"})(handler)
	handler = c.Handler(handler)
	handler = middleware.LoggingMiddleware(handler)
	return handler
}

func openCache(cfg config.Config) (*cache.PersistentCache, error) {
	pc, err := cache.NewPersistentCache(
		cfg.Configuration.CacheDBPath,
		cfg.Configuration.CacheBackupPath,
		cfg.FeatureFlags.CacheCompression,
		cacheBuckets()...,
	)
	if err != nil {
		return nil, fmt.Errorf("open cache at %s: %w", cfg.Configuration.CacheDBPath, err)
	}
	return pc, nil
}
