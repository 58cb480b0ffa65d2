package main

import (
	"fmt"
	"net/http"
	"sort"

	"bundle-cache-go/cache"
	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/beatsaver"
	"bundle-cache-go/services/fetch"
	"bundle-cache-go/stats"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

func (s *server) clearable(bucket string) bool {
	for _, name := range s.clearableBuckets {
		if name == bucket {
			return true
		}
	}
	return false
}

func (s *server) getCacheStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	resp := CacheStatsResponse{Buckets: make(map[string]BucketSummary)}
	for name, b := range s.cache.Stats() {
		resp.Buckets[name] = BucketSummary{Keys: b.Keys, SizeKB: b.SizeKB, InMemory: b.InMem}
		resp.TotalKeys += b.Keys
		resp.SizeInKB += b.SizeKB
	}
	resp.SizeInMB = float64(resp.SizeInKB) / 1024

	st := stats.Get()
	resp.Performance = CachePerformance{
		Hits:         st.CacheHits.Load(),
		Misses:       st.CacheMisses.Load(),
		NegativeHits: st.NegativeCacheHits.Load(),
		HitRate:      st.CacheHitRate(),
	}

	Respond(w).JSON(resp)
}

func (s *server) backupCache(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	backupPath, err := s.cache.Backup()
	if err != nil {
		log.Errorf("%s Failed to create backup: %v", logcolors.LogCacheBackup, err)
		s.bus.PublishCacheBackupFailed(err)
		Respond(w).Error(http.StatusInternalServerError, fmt.Sprintf("Failed to create backup: %v", err))
		return
	}

	Respond(w).JSON(map[string]interface{}{
		"message":     "Backup created successfully",
		"backup_path": backupPath,
	})
}

func (s *server) listBackups(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	backups, err := s.cache.ListBackups()
	if err != nil {
		log.Errorf("%s Failed to list backups: %v", logcolors.LogCacheBackup, err)
		Respond(w).Error(http.StatusInternalServerError, fmt.Sprintf("Failed to list backups: %v", err))
		return
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	Respond(w).JSON(map[string]interface{}{
		"count":   len(backups),
		"backups": backups,
	})
}

// clearBucket backs the database up and then empties one bucket. A failed
// backup leaves the bucket untouched.
func (s *server) clearBucket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	bucket := mux.Vars(r)["bucket"]
	if !s.clearable(bucket) {
		Respond(w).Error(http.StatusBadRequest, fmt.Sprintf("unknown bucket %q (valid: %v)", bucket, s.clearableBuckets))
		return
	}

	backupPath, err := s.cache.Backup()
	if err != nil {
		log.Errorf("%s Failed to back up before clearing %s: %v", logcolors.LogCacheClear, bucket, err)
		s.bus.PublishCacheBackupFailed(err)
		Respond(w).Error(http.StatusInternalServerError, fmt.Sprintf("Failed to back up cache: %v", err))
		return
	}

	if err := s.cache.Clear(bucket); err != nil {
		Respond(w).Fail(err)
		return
	}

	log.Infof("%s Bucket %s cleared, backup at: %s", logcolors.LogCacheClear, bucket, backupPath)
	s.bus.PublishCacheCleared(bucket, backupPath)
	Respond(w).JSON(map[string]interface{}{
		"message":     fmt.Sprintf("Bucket %s cleared", bucket),
		"bucket":      bucket,
		"backup_path": backupPath,
	})
}

const (
	defaultKeyListLimit = 100
	maxKeyListLimit     = 1000
)

// listCacheKeys returns up to limit keys of one service bucket
func (s *server) listCacheKeys(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	bucket := mux.Vars(r)["bucket"]
	if !s.clearable(bucket) {
		Respond(w).Error(http.StatusBadRequest, fmt.Sprintf("unknown bucket %q (valid: %v)", bucket, s.clearableBuckets))
		return
	}

	p := newQueryParser(r)
	limit := p.integer("limit", defaultKeyListLimit)
	if p.err == nil && (limit < 1 || limit > maxKeyListLimit) {
		p.err = fmt.Errorf("%w: limit must be between 1 and %d", fetch.ErrInvalidRequest, maxKeyListLimit)
	}
	if p.err != nil {
		Respond(w).Fail(p.err)
		return
	}

	resp := cacheKeysResponse{Bucket: bucket, Keys: []string{}}
	err := s.cache.Range(bucket, func(key string, _ cache.CacheEntry) bool {
		if len(resp.Keys) == limit {
			resp.Truncated = true
			return false
		}
		resp.Keys = append(resp.Keys, key)
		return true
	})
	if err != nil {
		Respond(w).Fail(err)
		return
	}
	resp.Count = len(resp.Keys)
	Respond(w).JSON(resp)
}

// putCachedMap stores a map detail record sent by the client. Storage
// failures are returned, not swallowed.
func (s *server) putCachedMap(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	var m beatsaver.Map
	if err := decodeBody(r, &m); err != nil {
		Respond(w).Fail(err)
		return
	}
	id := beatsaver.CacheKey(mux.Vars(r)["id"])
	if m.ID != "" && beatsaver.CacheKey(m.ID) != id {
		Respond(w).Fail(fmt.Errorf("%w: body id %q does not match path id %q", fetch.ErrInvalidRequest, m.ID, id))
		return
	}
	m.ID = id

	if err := s.beatsaver.StoreMap(m); err != nil {
		Respond(w).Fail(err)
		return
	}
	Respond(w).JSON(map[string]interface{}{
		"message": fmt.Sprintf("Map %s stored", id),
		"id":      id,
	})
}

func (s *server) evictCachedMap(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.beatsaver.EvictMap(id); err != nil {
		Respond(w).Fail(err)
		return
	}
	Respond(w).JSON(map[string]interface{}{
		"message": fmt.Sprintf("Map %s evicted", beatsaver.CacheKey(id)),
		"id":      beatsaver.CacheKey(id),
	})
}

func (s *server) cacheHelp(w http.ResponseWriter, r *http.Request) {
	Respond(w).JSON(map[string]interface{}{
		"authentication": "All cache endpoints require the Authorization header to match CACHE_ACCESS_TOKEN",
		"buckets":        s.clearableBuckets,
		"endpoints": map[string]string{
			"GET /cache":                 "Per-bucket key counts, sizes and hit rates",
			"POST /cache/backup":         "Write a snapshot of the cache database",
			"GET /cache/backups":         "List snapshots, newest first",
			"POST /cache/clear/{bucket}": "Back up, then empty one bucket",
			"GET /cache/keys/{bucket}":   "List stored keys of one bucket (limit, default 100)",
			"PUT /cache/maps/{id}":       "Store a map detail record; storage errors are returned",
			"DELETE /cache/maps/{id}":    "Evict a map's detail record and bundle",
		},
	})
}
