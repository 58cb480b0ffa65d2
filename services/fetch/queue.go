// Package fetch holds the background fetch pipeline shared by every upstream service:
// an unbounded FIFO queue, a single-consumer worker and a per-key dedup guard.
package fetch

import (
	"context"
	"sync"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/stats"

	log "github.com/sirupsen/logrus"
)

// Entry pairs a request with the cache key it resolves to.
type Entry[R any] struct {
	Key     string
	Request R
}

// Queue is an unbounded FIFO. Push never blocks; Pop waits for an entry or for ctx.
type Queue[R any] struct {
	name   string
	mu     sync.Mutex
	items  []Entry[R]
	signal chan struct{}
}

// NewQueue creates an empty queue; name is used in log lines only.
func NewQueue[R any](name string) *Queue[R] {
	return &Queue[R]{
		name:   name,
		signal: make(chan struct{}, 1),
	}
}

// Push appends a request and returns immediately.
func (q *Queue[R]) Push(key string, req R) {
	q.mu.Lock()
	q.items = append(q.items, Entry[R]{Key: key, Request: req})
	depth := len(q.items)
	q.mu.Unlock()
	stats.Get().SetQueueDepth(q.name, depth)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	log.Debugf("%s Queued %s (depth %d)", logcolors.QueuePrefix(q.name), key, depth)
}

// Pop removes the oldest entry, waiting until one is available.
func (q *Queue[R]) Pop(ctx context.Context) (Entry[R], error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			entry := q.items[0]
			q.items[0] = Entry[R]{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			depth := len(q.items)
			q.mu.Unlock()
			stats.Get().SetQueueDepth(q.name, depth)
			return entry, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry[R]{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of waiting entries.
func (q *Queue[R]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Name returns the queue's service name.
func (q *Queue[R]) Name() string {
	return q.name
}
