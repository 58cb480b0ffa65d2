package lrclib

import (
	"bundle-cache-go/cache"
	"bundle-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const BucketLyrics = "lyrics"

// Buckets declares the cache buckets used by LyricsStore
func Buckets() []cache.Bucket {
	return []cache.Bucket{{Name: BucketLyrics, Memory: true}}
}

// storedLyrics is one lyrics bucket value. Negative entries keep the names
// that were looked up and no record.
type storedLyrics struct {
	Found      bool    `json:"found"`
	Record     *Record `json:"record,omitempty"`
	TrackName  string  `json:"trackName"`
	ArtistName string  `json:"artistName"`
}

// LyricsStore persists lyrics records and cached misses
type LyricsStore struct {
	cache *cache.PersistentCache
}

func NewLyricsStore(pc *cache.PersistentCache) *LyricsStore {
	return &LyricsStore{cache: pc}
}

// Get returns the cached verdict for key, or nil when it was never looked up
func (s *LyricsStore) Get(key string) (*CacheEntry, error) {
	var v storedLyrics
	found, err := s.cache.GetJSON(BucketLyrics, key, &v)
	if err != nil || !found {
		return nil, err
	}
	if !v.Found {
		return &CacheEntry{Found: false}, nil
	}
	return &CacheEntry{Found: true, Data: v.Record}, nil
}

// Status returns the badge view of key, or nil when it was never looked up
func (s *LyricsStore) Status(key string) (*CacheStatus, error) {
	entry, err := s.Get(key)
	if err != nil || entry == nil {
		return nil, err
	}
	return &CacheStatus{Found: entry.Found, HasLyrics: entry.Data.HasLyrics()}, nil
}

// SaveFound stores a record, replacing an earlier miss
func (s *LyricsStore) SaveFound(key string, rec *Record) error {
	v := storedLyrics{
		Found:      true,
		Record:     rec,
		TrackName:  rec.TrackName,
		ArtistName: rec.ArtistName,
	}
	if err := s.cache.SetJSON(BucketLyrics, key, v); err != nil {
		return err
	}
	log.Debugf("%s Saved lyrics for %s", logcolors.LogCacheLyrics, key)
	return nil
}

// SaveNotFound caches a miss so the track is not requested again
func (s *LyricsStore) SaveNotFound(key, track, artist string) error {
	v := storedLyrics{TrackName: track, ArtistName: artist}
	if err := s.cache.SetJSON(BucketLyrics, key, v); err != nil {
		return err
	}
	log.Debugf("%s Cached miss for %s", logcolors.LogCacheNegative, key)
	return nil
}
