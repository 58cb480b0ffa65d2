package main

import (
	"github.com/gorilla/mux"
)

// routes configures all HTTP routes for the API
func (s *server) routes(router *mux.Router) {
	// Map metadata and downloads
	router.HandleFunc("/beatsaver/search", s.searchMaps).Methods("GET")
	router.HandleFunc("/beatsaver/browse/{category}", s.browseMaps).Methods("GET")
	router.HandleFunc("/beatsaver/maps/{id}", s.getMap).Methods("GET")
	router.HandleFunc("/beatsaver/maps/{id}/download/status", s.mapDownloadStatus).Methods("GET")
	router.HandleFunc("/beatsaver/maps/{id}/download", s.downloadMap).Methods("POST")
	router.HandleFunc("/beatsaver/maps/{id}/download/enqueue", s.enqueueMapDownload).Methods("POST")

	// Lyrics
	router.HandleFunc("/lyrics/cache", s.lyricsCacheCheck).Methods("GET")
	router.HandleFunc("/lyrics/cache/has", s.lyricsCacheHas).Methods("GET")
	router.HandleFunc("/lyrics/fetch", s.enqueueLyricsFetch).Methods("POST")

	// Fetch results and system events
	router.HandleFunc("/events", s.streamEvents).Methods("GET")

	// Cache management endpoints
	router.HandleFunc("/cache", s.getCacheStats).Methods("GET")
	router.HandleFunc("/cache/help", s.cacheHelp).Methods("GET")
	router.HandleFunc("/cache/backup", s.backupCache).Methods("POST")
	router.HandleFunc("/cache/backups", s.listBackups).Methods("GET")
	router.HandleFunc("/cache/clear/{bucket}", s.clearBucket).Methods("POST")
	router.HandleFunc("/cache/keys/{bucket}", s.listCacheKeys).Methods("GET")
	router.HandleFunc("/cache/maps/{id}", s.putCachedMap).Methods("PUT")
	router.HandleFunc("/cache/maps/{id}", s.evictCachedMap).Methods("DELETE")

	// Health and stats endpoints
	router.HandleFunc("/health", s.getHealthStatus).Methods("GET")
	router.HandleFunc("/stats", s.getStats).Methods("GET")
	router.HandleFunc("/metrics", s.serveMetrics).Methods("GET")

	// Circuit breaker endpoints
	router.HandleFunc("/circuit-breaker", s.getCircuitBreakerStatus).Methods("GET")
	router.HandleFunc("/circuit-breaker/reset", s.resetCircuitBreaker).Methods("POST")

	// Help endpoint
	router.HandleFunc("/", s.helpHandler)
}
