// Package events is an in-process publish/subscribe bus. Fetch workers publish their
// results on it and the HTTP event stream, the ntfy forwarder and tests subscribe.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"bundle-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// Topic names a stream of events
type Topic string

const (
	TopicBeatSaverResult Topic = "beatsaver:fetch-result"
	TopicLyricsResult    Topic = "lyrics:fetch-result"
	TopicSystem          Topic = "system"
)

// DefaultBufferSize is used when a subscriber asks for a non-positive buffer.
const DefaultBufferSize = 64

// Event is one delivery on a subscription
type Event struct {
	Topic     Topic       `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscription receives events in publish order on C until it is unsubscribed.
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	topic Topic
	all   bool
	bus   *Bus
}

// Topic returns the subscribed topic, or "" for SubscribeAll subscriptions.
func (s *Subscription) Topic() Topic {
	return s.topic
}

// Close is shorthand for Unsubscribe.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

// Bus manages event publishing and subscription
type Bus struct {
	mu            sync.RWMutex
	subs          map[Topic]map[*Subscription]struct{}
	all           map[*Subscription]struct{}
	defaultBuffer int
	dropped       atomic.Uint64
}

// New creates a bus whose subscriptions default to bufferSize slots.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:          make(map[Topic]map[*Subscription]struct{}),
		all:           make(map[*Subscription]struct{}),
		defaultBuffer: bufferSize,
	}
}

func (b *Bus) newSubscription(topic Topic, all bool, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = b.defaultBuffer
	}
	ch := make(chan Event, buffer)
	return &Subscription{C: ch, ch: ch, topic: topic, all: all, bus: b}
}

// Subscribe registers a listener for one topic
func (b *Bus) Subscribe(topic Topic, buffer int) *Subscription {
	sub := b.newSubscription(topic, false, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub
}

// SubscribeAll registers a listener that receives every topic
func (b *Bus) SubscribeAll(buffer int) *Subscription {
	sub := b.newSubscription("", true, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.all[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches a subscription and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var set map[*Subscription]struct{}
	if sub.all {
		set = b.all
	} else {
		set = b.subs[sub.topic]
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if !sub.all && len(set) == 0 {
		delete(b.subs, sub.topic)
	}
	close(sub.ch)
}

// Publish delivers payload to every subscriber of topic without blocking.
// A subscriber whose buffer is full misses the event.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[topic] {
		b.deliver(sub, event)
	}
	for sub := range b.all {
		b.deliver(sub, event)
	}
}

// deliver is called with the read lock held, so the channel cannot be closed underneath it.
func (b *Bus) deliver(sub *Subscription, event Event) {
	select {
	case sub.ch <- event:
	default:
		b.dropped.Add(1)
		log.Debugf("%s Dropped %s event for slow subscriber", logcolors.LogEvents, event.Topic)
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of listeners that would receive topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic]) + len(b.all)
}
