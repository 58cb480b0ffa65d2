package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/events"
	"bundle-cache-go/stats"

	log "github.com/sirupsen/logrus"
)

// Processor turns one queued entry into a terminal result.
type Processor[R any] func(ctx context.Context, entry Entry[R]) Result

// Worker drains a queue one entry at a time and publishes every result on the bus.
type Worker[R any] struct {
	name    string
	queue   *Queue[R]
	bus     *events.Bus
	topic   events.Topic
	process Processor[R]
}

// NewWorker wires a queue to a processor. Results go to topic on bus.
func NewWorker[R any](name string, queue *Queue[R], bus *events.Bus, topic events.Topic, process Processor[R]) *Worker[R] {
	return &Worker[R]{
		name:    name,
		queue:   queue,
		bus:     bus,
		topic:   topic,
		process: process,
	}
}

// Run processes entries in FIFO order until ctx is cancelled.
// Entries still queued at that point are discarded.
func (w *Worker[R]) Run(ctx context.Context) error {
	prefix := logcolors.WorkerPrefix(w.name)
	log.Infof("%s Started", prefix)

	for {
		entry, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Infof("%s Stopped (%d pending discarded)", prefix, w.queue.Len())
				return nil
			}
			return err
		}

		start := time.Now()
		result := w.handle(ctx, entry)
		stats.Get().RecordFetchResult(w.name, string(result.Status))

		if result.Status == StatusError {
			log.Warnf("%s %s -> %s: %s (%v)", prefix, entry.Key, result.Status, result.Error, time.Since(start))
		} else {
			log.Infof("%s %s -> %s (%v)", prefix, entry.Key, result.Status, time.Since(start))
		}

		w.bus.Publish(w.topic, result)
	}
}

// handle runs the processor, converting a panic into an error result.
func (w *Worker[R]) handle(ctx context.Context, entry Entry[R]) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s Recovered panic while processing %s: %v", logcolors.WorkerPrefix(w.name), entry.Key, r)
			result = Failed(entry.Key, fmt.Errorf("internal error: %v", r))
		}
	}()

	result = w.process(ctx, entry)
	if result.CacheKey == "" {
		result.CacheKey = entry.Key
	}
	return result
}
