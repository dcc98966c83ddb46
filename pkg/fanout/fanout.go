// Package fanout is the push-subscription transport: a live, in-process
// fan-out keyed by logical topic name. Every currently-subscribed listener
// of a topic receives each published event; there is no replay and no
// persistence. A subscriber that stops draining its channel loses events
// rather than blocking the rest.
package fanout

import (
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fanout_dropped_events_total",
	Help: "Events dropped because a subscriber was not draining its channel",
}, []string{"topic"})

const defaultBuffer = 16

type Event struct {
	Topic string
	Data  []byte
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Publish delivers data to every live subscriber of topic. Slow subscribers
// with a full buffer are skipped.
func (b *Bus) Publish(topic string, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for sub := range b.subs[topic] {
		select {
		case sub.ch <- Event{Topic: topic, Data: data}:
		default:
			droppedEvents.WithLabelValues(topic).Inc()
			log.Printf("[FANOUT] Dropped event for slow subscriber on %s", topic)
		}
	}
}

// Subscribe registers a listener for topic. The caller must Close the
// subscription when done.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		bus:   b,
		topic: topic,
		ch:    make(chan Event, defaultBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub
	}

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub
}

// Close shuts down the bus and every live subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.subs {
		for sub := range subs {
			close(sub.ch)
		}
	}
	b.subs = nil
}

type Subscription struct {
	bus   *Bus
	topic string
	ch    chan Event
	once  sync.Once
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes. The event channel is closed once no publisher can
// still be writing to it.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		if s.bus.closed {
			return
		}
		delete(s.bus.subs[s.topic], s)
		if len(s.bus.subs[s.topic]) == 0 {
			delete(s.bus.subs, s.topic)
		}
		close(s.ch)
	})
}
