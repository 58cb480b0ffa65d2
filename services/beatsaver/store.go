package beatsaver

import (
	"fmt"

	"bundle-cache-go/cache"
	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/archive"

	log "github.com/sirupsen/logrus"
)

const (
	BucketMaps      = "bs_maps"
	BucketBrowse    = "bs_browse"
	BucketDownloads = "bs_downloads"
)

// Buckets declares the cache buckets used by MapStore. Bundles carry base64 audio
// and stay on disk only.
func Buckets() []cache.Bucket {
	return []cache.Bucket{
		{Name: BucketMaps, Memory: true},
		{Name: BucketBrowse, Memory: true},
		{Name: BucketDownloads, Memory: false},
	}
}

// MapStore persists map details, browse listings and extracted bundles
type MapStore struct {
	cache *cache.PersistentCache
}

func NewMapStore(pc *cache.PersistentCache) *MapStore {
	return &MapStore{cache: pc}
}

// GetMap returns a cached map, or nil when absent
func (s *MapStore) GetMap(id string) (*Map, error) {
	var m Map
	found, err := s.cache.GetJSON(BucketMaps, CacheKey(id), &m)
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

// SaveMap stores one map detail record, replacing any previous version
func (s *MapStore) SaveMap(m Map) error {
	key := CacheKey(m.ID)
	if key == "" {
		return fmt.Errorf("map without id")
	}
	return s.cache.SetJSON(BucketMaps, key, m)
}

// SaveMaps stores several maps, stopping at the first failure
func (s *MapStore) SaveMaps(maps []Map) error {
	for _, m := range maps {
		if err := s.SaveMap(m); err != nil {
			return err
		}
	}
	log.Debugf("%s Saved %d map detail record(s)", logcolors.LogCacheMaps, len(maps))
	return nil
}

// GetBrowse returns the cached listing for a category in its stored order.
// Ids whose detail record has gone missing are skipped. Returns nil when the
// category has never been stored or resolves to no maps.
func (s *MapStore) GetBrowse(category Category) ([]Map, error) {
	var ids []string
	found, err := s.cache.GetJSON(BucketBrowse, string(category), &ids)
	if err != nil || !found {
		return nil, err
	}

	var maps []Map
	for _, id := range ids {
		m, err := s.GetMap(id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			maps = append(maps, *m)
		}
	}
	return maps, nil
}

// SaveBrowse replaces a category listing and stores every map in it
func (s *MapStore) SaveBrowse(category Category, maps []Map) error {
	if err := s.SaveMaps(maps); err != nil {
		return err
	}
	ids := make([]string, 0, len(maps))
	for _, m := range maps {
		ids = append(ids, CacheKey(m.ID))
	}
	return s.cache.SetJSON(BucketBrowse, string(category), ids)
}

// HasDownload reports whether a bundle is stored for the map
func (s *MapStore) HasDownload(id string) bool {
	return s.cache.Has(BucketDownloads, CacheKey(id))
}

// GetDownload returns a stored bundle, or nil when absent
func (s *MapStore) GetDownload(id string) (*archive.Bundle, error) {
	var b archive.Bundle
	found, err := s.cache.GetJSON(BucketDownloads, CacheKey(id), &b)
	if err != nil || !found {
		return nil, err
	}
	return &b, nil
}

// SaveDownload stores an extracted bundle under the map id
func (s *MapStore) SaveDownload(id string, b *archive.Bundle) error {
	return s.cache.SetJSON(BucketDownloads, CacheKey(id), b)
}

// DeleteMap removes the map's detail record and its stored bundle.
// Browse listings skip ids whose detail record is gone.
func (s *MapStore) DeleteMap(id string) error {
	key := CacheKey(id)
	if err := s.cache.Delete(BucketMaps, key); err != nil {
		return err
	}
	return s.cache.Delete(BucketDownloads, key)
}
