package lrclib

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/events"
	"bundle-cache-go/services/fetch"
	"bundle-cache-go/services/upstream"
	"bundle-cache-go/stats"

	log "github.com/sirupsen/logrus"
)

// Service answers lyrics cache lookups and resolves misses through a queue
type Service struct {
	client *Client
	store  *LyricsStore
	queue  *fetch.Queue[LyricsRequest]
	worker *fetch.Worker[LyricsRequest]
}

func NewService(client *Client, store *LyricsStore, bus *events.Bus) *Service {
	s := &Service{
		client: client,
		store:  store,
		queue:  fetch.NewQueue[LyricsRequest](ServiceName),
	}
	s.worker = fetch.NewWorker(ServiceName, s.queue, bus, events.TopicLyricsResult, s.process)
	return s
}

// Run drains the lyrics queue until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	return s.worker.Run(ctx)
}

func (s *Service) QueueLen() int {
	return s.queue.Len()
}

// CacheCheck returns the cached verdict, or nil when the track was never looked up
func (s *Service) CacheCheck(track string, artist *string) (*CacheEntry, error) {
	return s.store.Get(CacheKey(track, artist))
}

// CacheHasLyricsText reports whether a cached record carries lyrics text
func (s *Service) CacheHasLyricsText(track string, artist *string) (*CacheStatus, error) {
	return s.store.Status(CacheKey(track, artist))
}

// EnqueueFetch queues a lookup and returns its correlation key
func (s *Service) EnqueueFetch(req LyricsRequest) (string, error) {
	if strings.TrimSpace(req.TrackName) == "" {
		return "", fmt.Errorf("%w: trackName is required", fetch.ErrInvalidRequest)
	}
	key := req.Key()
	s.queue.Push(key, req)
	return key, nil
}

// process answers from the store when a verdict is cached, else asks LRCLIB.
// A 404 is cached as a miss; other failures are not cached.
func (s *Service) process(ctx context.Context, entry fetch.Entry[LyricsRequest]) fetch.Result {
	key := entry.Key

	cached, err := s.store.Get(key)
	if err != nil {
		log.Warnf("%s Lyrics cache read error for %s: %v", logcolors.LogCacheLyrics, key, err)
	} else if cached != nil {
		if cached.Found {
			stats.Get().RecordCacheHit()
			return fetch.Success(key, cached.Data)
		}
		stats.Get().RecordNegativeCacheHit()
		return fetch.NotFound(key)
	}
	stats.Get().RecordCacheMiss()

	req := entry.Request
	rec, err := s.client.Get(ctx, req)
	if errors.Is(err, upstream.ErrNotFound) {
		artist := "unknown"
		if req.ArtistName != nil {
			artist = *req.ArtistName
		}
		if err := s.store.SaveNotFound(key, req.TrackName, artist); err != nil {
			log.Warnf("%s Failed to cache miss for %s: %v", logcolors.LogCacheNegative, key, err)
		}
		return fetch.NotFound(key)
	}
	if err != nil {
		return fetch.Failed(key, err)
	}

	if err := s.store.SaveFound(key, rec); err != nil {
		log.Warnf("%s Failed to cache lyrics for %s: %v", logcolors.LogCacheLyrics, key, err)
	}
	return fetch.Success(key, rec)
}
