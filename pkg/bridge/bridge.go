// Package bridge forwards brewing events from the broker into the
// push-subscription fan-out consumed by live API subscribers.
package bridge

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AnnaFoldberg/tea-app/pkg/broker"
	svcerror "github.com/AnnaFoldberg/tea-app/pkg/error"
	"github.com/AnnaFoldberg/tea-app/pkg/events"
)

// Logical fan-out topics. These are the subscriber-facing names, distinct
// from the broker topics they are fed by.
const (
	StreamTopicBrewing = "orders/brewing"
	StreamTopicBrewed  = "orders/brewed"
)

// ReconnectBackoff is the fixed wait between reconnect attempts after a
// connection-level failure.
const ReconnectBackoff = 3 * time.Second

var (
	eventsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_events_forwarded_total",
		Help: "Broker events forwarded into the fan-out",
	}, []string{"topic"})
	decodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_decode_failures_total",
		Help: "Malformed broker messages dropped by the bridge",
	})
	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_reconnects_total",
		Help: "Connect-and-declare cycles started after a failure",
	})
)

// Dialer opens broker connections. Satisfied by broker.Dialer.
type Dialer interface {
	Dial(ctx context.Context) (broker.Conn, error)
}

// Bus is the fan-out side of the bridge.
type Bus interface {
	Publish(topic string, data []byte)
}

// Relay consumes the brewing broadcast topics and pushes every decodable
// event into the fan-out. It owns no persistent state; its only state is
// liveness (connected or reconnecting).
type Relay struct {
	Dialer  Dialer
	Bus     Bus
	Backoff time.Duration
}

func NewRelay(dialer Dialer, bus Bus) *Relay {
	return &Relay{
		Dialer:  dialer,
		Bus:     bus,
		Backoff: ReconnectBackoff,
	}
}

// Run blocks until ctx is cancelled. Any connection-level failure tears the
// session down, waits the fixed backoff, and starts over from connect +
// topology declaration; the broker is assumed to forget bindings made by the
// previous connection.
func (r *Relay) Run(ctx context.Context) error {
	for {
		if err := r.forward(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[BRIDGE] Connection failure, retrying in %s: %v", r.Backoff, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Backoff):
			reconnects.Inc()
		}
	}
}

// forward runs one connect-declare-consume cycle and returns when it fails
// or ctx is cancelled.
func (r *Relay) forward(ctx context.Context) error {
	conn, err := r.Dialer.Dial(ctx)
	if err != nil {
		return svcerror.AddOp(err, "Bridge.Run")
	}
	defer conn.Close()

	sess, err := conn.Session()
	if err != nil {
		return svcerror.AddOp(err, "Bridge.Run")
	}
	defer sess.Close()

	progress, err := subscribe(sess, events.TopicBrewProgress, events.QueueRelayBrewProgress)
	if err != nil {
		return err
	}
	completed, err := subscribe(sess, events.TopicBrewCompleted, events.QueueRelayBrewComplete)
	if err != nil {
		return err
	}

	log.Printf("[BRIDGE] Connected, forwarding %s and %s", events.TopicBrewProgress.Name, events.TopicBrewCompleted.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-progress:
			if !ok {
				return connectionLost(events.TopicBrewProgress.Name)
			}
			r.forwardProgress(d)

		case d, ok := <-completed:
			if !ok {
				return connectionLost(events.TopicBrewCompleted.Name)
			}
			r.forwardCompleted(d)
		}
	}
}

// subscribe re-declares the topic and queue binding before consuming.
// Declaration is idempotent, so running this on every reconnect never
// changes existing topology.
func subscribe(sess broker.Session, topic broker.Topic, queue string) (<-chan broker.Delivery, error) {
	if err := sess.DeclareTopic(topic); err != nil {
		return nil, svcerror.AddOp(err, "Bridge.Run")
	}
	if err := sess.Bind(queue, topic, ""); err != nil {
		return nil, svcerror.AddOp(err, "Bridge.Run")
	}
	deliveries, err := sess.Consume(queue, true)
	if err != nil {
		return nil, svcerror.AddOp(err, "Bridge.Run")
	}
	return deliveries, nil
}

// forwardProgress pushes one progress message to the fan-out. A message
// that fails to decode is dropped; with auto-ack it is gone for good, so
// dropping must never take the consume loop down with it.
func (r *Relay) forwardProgress(d broker.Delivery) {
	evt, err := events.Decode[events.BrewProgress](d.Body)
	if err != nil {
		decodeFailures.Inc()
		log.Printf("[BRIDGE] Dropping malformed message on %s: %v", events.TopicBrewProgress.Name, err)
		return
	}

	r.Bus.Publish(StreamTopicBrewing, d.Body)
	eventsForwarded.WithLabelValues(StreamTopicBrewing).Inc()
	log.Printf("[BRIDGE] Forwarded progress order=%s", evt.OrderID)
}

func (r *Relay) forwardCompleted(d broker.Delivery) {
	evt, err := events.Decode[events.BrewCompleted](d.Body)
	if err != nil {
		decodeFailures.Inc()
		log.Printf("[BRIDGE] Dropping malformed message on %s: %v", events.TopicBrewCompleted.Name, err)
		return
	}

	r.Bus.Publish(StreamTopicBrewed, d.Body)
	eventsForwarded.WithLabelValues(StreamTopicBrewed).Inc()
	log.Printf("[BRIDGE] Forwarded completion order=%s success=%t", evt.OrderID, evt.Success)
}

func connectionLost(topic string) error {
	return svcerror.New(
		svcerror.ErrConnectionError,
		svcerror.WithOp("Bridge.Run"),
		svcerror.WithMsg("delivery stream closed for "+topic),
		svcerror.WithCause(errors.New("broker connection lost")),
		svcerror.WithTime(time.Now().UTC()),
	)
}
