package handler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AnnaFoldberg/tea-app/pkg/broker"
	"github.com/AnnaFoldberg/tea-app/pkg/events"
)

// Reference brewing policy. Deliberately named constants, not configuration:
// whether these should vary per product is an open question and the original
// behavior is fixed.
const (
	BrewHeartbeats    = 5
	HeartbeatInterval = 1 * time.Second
)

var (
	brewsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barista_brews_started_total",
		Help: "Orders accepted for brewing",
	})
	brewsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barista_brews_completed_total",
		Help: "Brewing runs that emitted their terminal event",
	})
	brewsAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barista_brews_aborted_total",
		Help: "Brewing runs cut short by cancellation or publish failure",
	})
	decodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barista_decode_failures_total",
		Help: "Malformed order messages dropped",
	})
)

type Publisher interface {
	Publish(ctx context.Context, topic broker.Topic, routingKey string, event any) error
}

// PublishFailurePolicy decides what a brewing run does when a mid-sequence
// publish fails. The swallow-or-abort choice is explicit rather than buried
// in the loop.
type PublishFailurePolicy int

const (
	// AbortBrew stops the run; the remaining heartbeats and the terminal
	// event for that order are never emitted.
	AbortBrew PublishFailurePolicy = iota
	// SkipHeartbeat drops the failed heartbeat and keeps brewing, so the
	// terminal event still gets a chance to go out.
	SkipHeartbeat
)

// Handler runs one brewing state machine per received order:
// Received -> Brewing(0..n-1) -> Completed. Runs are independent; the only
// shared state is the publisher.
type Handler struct {
	Publisher        Publisher
	Heartbeats       int
	Interval         time.Duration
	OnPublishFailure PublishFailurePolicy

	brews sync.WaitGroup
}

func NewHandler(publisher Publisher) *Handler {
	return &Handler{
		Publisher:        publisher,
		Heartbeats:       BrewHeartbeats,
		Interval:         HeartbeatInterval,
		OnPublishFailure: AbortBrew,
	}
}

// HandleDelivery decodes one placed-order message and starts its brewing run
// in its own goroutine. The message was already acknowledged on receipt, so
// a malformed payload is dropped for good rather than redelivered.
func (h *Handler) HandleDelivery(ctx context.Context, d broker.Delivery) {
	evt, err := events.Decode[events.OrderPlaced](d.Body)
	if err != nil {
		decodeFailures.Inc()
		log.Printf("[BARISTA] Dropping malformed order message: %v", err)
		return
	}

	brewsStarted.Inc()
	h.brews.Add(1)
	go func() {
		defer h.brews.Done()
		h.Brew(ctx, evt)
	}()
}

// Brew emits the fixed heartbeat sequence followed by exactly one terminal
// event. Each heartbeat blocks on the previous one's delay, so the per-order
// sequence is strictly ordered by emission.
func (h *Handler) Brew(ctx context.Context, order events.OrderPlaced) {
	log.Printf("[BARISTA] Brewing started: order=%s product=%s", order.OrderID, order.ProductID)

	for beat := 0; beat < h.Heartbeats; beat++ {
		select {
		case <-ctx.Done():
			brewsAborted.Inc()
			log.Printf("[BARISTA] Brewing aborted: order=%s beat=%d", order.OrderID, beat)
			return
		case <-time.After(h.Interval):
		}

		progress := events.BrewProgress{
			OrderID:    order.OrderID,
			ProductID:  order.ProductID,
			ObservedAt: time.Now().UTC(),
		}
		if err := h.Publisher.Publish(ctx, events.TopicBrewProgress, "", progress); err != nil {
			log.Printf("[BARISTA] Failed to publish progress: order=%s beat=%d err=%v", order.OrderID, beat, err)
			if h.OnPublishFailure == AbortBrew {
				brewsAborted.Inc()
				return
			}
		}
	}

	completed := events.BrewCompleted{
		OrderID:    order.OrderID,
		Success:    true,
		FinishedAt: time.Now().UTC(),
	}
	if err := h.Publisher.Publish(ctx, events.TopicBrewCompleted, "", completed); err != nil {
		brewsAborted.Inc()
		log.Printf("[BARISTA] Failed to publish completion: order=%s err=%v", order.OrderID, err)
		return
	}

	brewsCompleted.Inc()
	log.Printf("[BARISTA] Brewing completed: order=%s", order.OrderID)
}

// Wait blocks until every in-flight brewing run has finished, or until the
// grace period expires. Returns false on timeout.
func (h *Handler) Wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.brews.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
