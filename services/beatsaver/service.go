package beatsaver

import (
	"context"
	"fmt"
	"net/url"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/archive"
	"bundle-cache-go/services/events"
	"bundle-cache-go/services/fetch"
	"bundle-cache-go/stats"

	log "github.com/sirupsen/logrus"
)

// artifact is what one guarded fetch produces
type artifact struct {
	bundle *archive.Bundle
	cached bool
}

// Service is the map façade: cache-first metadata lookups, synchronous and
// queued archive downloads.
type Service struct {
	client *Client
	store  *MapStore
	queue  *fetch.Queue[DownloadRequest]
	guard  *fetch.Guard[*artifact]
	worker *fetch.Worker[DownloadRequest]
}

// NewService wires the client and store to a download queue whose results are
// published on bus.
func NewService(client *Client, store *MapStore, bus *events.Bus) *Service {
	s := &Service{
		client: client,
		store:  store,
		queue:  fetch.NewQueue[DownloadRequest](ServiceName),
		guard:  fetch.NewGuard[*artifact](ServiceName),
	}
	s.worker = fetch.NewWorker(ServiceName, s.queue, bus, events.TopicBeatSaverResult, s.process)
	return s
}

// Run drains the download queue until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	return s.worker.Run(ctx)
}

// QueueLen returns the number of downloads waiting
func (s *Service) QueueLen() int {
	return s.queue.Len()
}

// Search always goes to the network. Returned maps are saved as detail records;
// a failed save is logged only.
func (s *Service) Search(ctx context.Context, query string, page int, filters SearchFilters) (*SearchResponse, error) {
	if page < 0 {
		return nil, fmt.Errorf("%w: page must not be negative", fetch.ErrInvalidRequest)
	}

	resp, err := s.client.Search(ctx, query, page, filters)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveMaps(resp.Docs); err != nil {
		log.Warnf("%s Failed to cache search results: %v", logcolors.LogCacheMaps, err)
	}
	return resp, nil
}

// Browse returns a category listing, from cache when one is stored
func (s *Service) Browse(ctx context.Context, category Category, pageSize int) (*SearchResponse, error) {
	normalized, ok := ParseCategory(string(category))
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", fetch.ErrInvalidRequest, category)
	}
	category = normalized

	cached, err := s.store.GetBrowse(category)
	if err != nil {
		log.Warnf("%s Browse cache read error for %s: %v", logcolors.LogCacheMaps, category, err)
	} else if len(cached) > 0 {
		stats.Get().RecordCacheHit()
		log.Debugf("%s Browse %s served from cache (%d maps)", logcolors.LogCacheMaps, category, len(cached))
		return &SearchResponse{Docs: cached}, nil
	}
	stats.Get().RecordCacheMiss()

	resp, err := s.client.Latest(ctx, category, pageSize)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveBrowse(category, resp.Docs); err != nil {
		log.Warnf("%s Failed to cache browse category %s: %v", logcolors.LogCacheMaps, category, err)
	}
	return resp, nil
}

// GetByID returns map metadata, from cache when stored
func (s *Service) GetByID(ctx context.Context, id string) (*Map, error) {
	key := CacheKey(id)
	if key == "" {
		return nil, fmt.Errorf("%w: map id is required", fetch.ErrInvalidRequest)
	}

	cached, err := s.store.GetMap(key)
	if err != nil {
		log.Warnf("%s Map cache read error for %s: %v", logcolors.LogCacheMaps, key, err)
	} else if cached != nil {
		stats.Get().RecordCacheHit()
		return cached, nil
	}
	stats.Get().RecordCacheMiss()

	m, err := s.client.MapByID(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveMap(*m); err != nil {
		log.Warnf("%s Failed to cache map %s: %v", logcolors.LogCacheMaps, key, err)
	}
	return m, nil
}

// StoreMap writes a map detail record. Unlike the saves done while serving
// reads, a failed write is returned to the caller.
func (s *Service) StoreMap(m Map) error {
	if CacheKey(m.ID) == "" {
		return fmt.Errorf("%w: map id is required", fetch.ErrInvalidRequest)
	}
	return s.store.SaveMap(m)
}

// EvictMap drops the map's cached metadata and bundle
func (s *Service) EvictMap(id string) error {
	if CacheKey(id) == "" {
		return fmt.Errorf("%w: map id is required", fetch.ErrInvalidRequest)
	}
	if err := s.store.DeleteMap(id); err != nil {
		return err
	}
	log.Infof("%s Evicted map %s", logcolors.LogCacheMaps, CacheKey(id))
	return nil
}

// HasArtifact reports whether the map's bundle is already stored
func (s *Service) HasArtifact(id string) bool {
	return s.store.HasDownload(id)
}

func validateDownload(id, downloadURL string) (string, error) {
	key := CacheKey(id)
	if key == "" {
		return "", fmt.Errorf("%w: map id is required", fetch.ErrInvalidRequest)
	}
	u, err := url.Parse(downloadURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: download url must be an absolute http(s) url", fetch.ErrInvalidRequest)
	}
	return key, nil
}

// FetchArtifactSync returns the map's bundle, downloading and extracting it
// when it is not stored yet. Blocks until done.
func (s *Service) FetchArtifactSync(ctx context.Context, id, downloadURL string) (*archive.Bundle, error) {
	key, err := validateDownload(id, downloadURL)
	if err != nil {
		return nil, err
	}

	a, err := s.obtain(ctx, key, downloadURL)
	if err != nil {
		return nil, err
	}
	return a.bundle, nil
}

// EnqueueArtifactFetch queues a download and returns its correlation key
func (s *Service) EnqueueArtifactFetch(id, downloadURL string) (string, error) {
	key, err := validateDownload(id, downloadURL)
	if err != nil {
		return "", err
	}
	s.queue.Push(key, DownloadRequest{MapID: key, DownloadURL: downloadURL})
	return key, nil
}

// obtain loads the bundle from the store or downloads it. Concurrent calls for
// one key share a single download that outlives any one caller's ctx.
func (s *Service) obtain(ctx context.Context, key, downloadURL string) (*artifact, error) {
	return s.guard.Do(ctx, key, func(ctx context.Context) (*artifact, error) {
		cached, err := s.store.GetDownload(key)
		if err != nil {
			log.Warnf("%s Download cache read error for %s: %v", logcolors.LogCacheMaps, key, err)
		} else if cached != nil {
			stats.Get().RecordCacheHit()
			return &artifact{bundle: cached, cached: true}, nil
		}
		stats.Get().RecordCacheMiss()

		data, err := s.client.Download(ctx, downloadURL)
		if err != nil {
			return nil, err
		}

		bundle, err := archive.Extract(data)
		if err != nil {
			return nil, fmt.Errorf("extract map %s: %w", key, err)
		}

		if err := s.store.SaveDownload(key, bundle); err != nil {
			log.Warnf("%s Failed to cache bundle for %s: %v", logcolors.LogCacheMaps, key, err)
		}
		return &artifact{bundle: bundle}, nil
	})
}

func (s *Service) process(ctx context.Context, entry fetch.Entry[DownloadRequest]) fetch.Result {
	if s.store.HasDownload(entry.Key) {
		return fetch.AlreadyCached(entry.Key)
	}

	a, err := s.obtain(ctx, entry.Key, entry.Request.DownloadURL)
	if err != nil {
		return fetch.Failed(entry.Key, err)
	}
	if a.cached {
		return fetch.AlreadyCached(entry.Key)
	}
	return fetch.Success(entry.Key, a.bundle)
}
