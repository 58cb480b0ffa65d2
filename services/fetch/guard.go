package fetch

import (
	"context"

	"bundle-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Guard collapses concurrent work on the same cache key into one call.
// The function passed to Do should re-check the cache before going to the network,
// so a caller arriving after a completed flight sees the stored artifact.
type Guard[T any] struct {
	name  string
	group singleflight.Group
}

// NewGuard creates a guard; name is used in log lines only.
func NewGuard[T any](name string) *Guard[T] {
	return &Guard[T]{name: name}
}

// Do runs fn for key unless a call for the same key is already in flight,
// in which case it waits for that call and returns its outcome.
//
// fn receives a context detached from the caller's cancellation, so one caller
// giving up never fails the flight for the others. A cancelled caller stops
// waiting and gets ctx.Err(); the flight keeps running and still stores its result.
func (g *Guard[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (interface{}, error) {
		return fn(flightCtx)
	})

	var zero T
	select {
	case <-ctx.Done():
		log.Debugf("%s %s: caller for %s gave up waiting: %v", logcolors.LogDedup, g.name, key, ctx.Err())
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			log.Debugf("%s %s: shared in-flight fetch for %s", logcolors.LogDedup, g.name, key)
		}
		out, _ := res.Val.(T)
		return out, res.Err
	}
}
