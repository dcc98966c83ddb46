// Package broker wraps the AMQP client behind a narrow publish/consume
// surface. The connection is owned by whoever dialed it; each logical role
// (publisher, consumer) opens its own lightweight session on top of it so a
// slow consumer never blocks the others sharing the connection.
//
// Topology declaration is idempotent: re-declaring a topic with identical
// parameters is a no-op, while a conflicting redeclaration surfaces as
// ErrTopologyConflict. Consumers must assume no server-side state survives a
// reconnect and re-run their full declaration before resuming.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	svcerror "github.com/AnnaFoldberg/tea-app/pkg/error"
)

// TopicKind is the closed set of delivery semantics a topic can have.
type TopicKind int

const (
	// TopicRouted delivers a message only to consumers bound with a
	// matching routing key.
	TopicRouted TopicKind = iota
	// TopicBroadcast delivers a message to every bound consumer.
	TopicBroadcast
)

func (k TopicKind) String() string {
	switch k {
	case TopicRouted:
		return "routed"
	case TopicBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// exchangeType maps a TopicKind to its AMQP exchange type.
func (k TopicKind) exchangeType() string {
	if k == TopicBroadcast {
		return "fanout"
	}
	return "direct"
}

// Topic names a broker topic together with its delivery semantics.
type Topic struct {
	Name string
	Kind TopicKind
}

// Delivery is one message received from a queue.
type Delivery struct {
	Body        []byte
	RoutingKey  string
	Exchange    string
	ContentType string
}

const ContentTypeJSON = "application/json"

type Config struct {
	URL string
}

// Conn is an open broker connection. A single owner dials and closes it;
// everyone else only ever sees Sessions opened from it.
type Conn interface {
	Session() (Session, error)
	Close() error
}

// Session is a lightweight sub-channel on a shared connection, one per
// logical role. Sessions are safe for concurrent use.
type Session interface {
	DeclareTopic(topic Topic) error
	Bind(queue string, topic Topic, routingKey string) error
	Publish(ctx context.Context, topic Topic, routingKey string, body []byte, persistent bool) error
	Consume(queue string, autoAck bool) (<-chan Delivery, error)
	Close() error
}

// Dialer opens connections to the broker described by its Config.
type Dialer struct {
	Config Config
}

func (d Dialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, svcerror.New(
			svcerror.ErrConnectionError,
			svcerror.WithOp("Broker.Dial"),
			svcerror.WithCause(err),
			svcerror.WithTime(time.Now().UTC()),
		)
	}

	conn, err := amqp.Dial(d.Config.URL)
	if err != nil {
		return nil, svcerror.New(
			svcerror.ErrConnectionError,
			svcerror.WithOp("Broker.Dial"),
			svcerror.WithMsg("broker unreachable"),
			svcerror.WithCause(err),
			svcerror.WithTime(time.Now().UTC()),
		)
	}

	return &connection{conn: conn}, nil
}

type connection struct {
	conn *amqp.Connection
}

func (c *connection) Session() (Session, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, svcerror.New(
			svcerror.ErrConnectionError,
			svcerror.WithOp("Broker.Session"),
			svcerror.WithMsg("failed to open channel"),
			svcerror.WithCause(err),
			svcerror.WithTime(time.Now().UTC()),
		)
	}
	return &session{ch: ch, done: make(chan struct{})}, nil
}

func (c *connection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type session struct {
	ch        *amqp.Channel
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) DeclareTopic(topic Topic) error {
	err := s.ch.ExchangeDeclare(
		topic.Name,
		topic.Kind.exchangeType(),
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return classify(err, "Broker.DeclareTopic")
	}
	return nil
}

func (s *session) Bind(queue string, topic Topic, routingKey string) error {
	if _, err := s.ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return classify(err, "Broker.Bind")
	}

	if err := s.ch.QueueBind(queue, routingKey, topic.Name, false, nil); err != nil {
		return classify(err, "Broker.Bind")
	}
	return nil
}

func (s *session) Publish(ctx context.Context, topic Topic, routingKey string, body []byte, persistent bool) error {
	deliveryMode := amqp.Transient
	if persistent {
		deliveryMode = amqp.Persistent
	}

	err := s.ch.PublishWithContext(ctx,
		topic.Name,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: deliveryMode,
			ContentType:  ContentTypeJSON,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return svcerror.New(
			svcerror.ErrPublishError,
			svcerror.WithOp("Broker.Publish"),
			svcerror.WithMsg("failed to publish to "+topic.Name),
			svcerror.WithCause(err),
			svcerror.WithTime(time.Now().UTC()),
		)
	}
	return nil
}

func (s *session) Consume(queue string, autoAck bool) (<-chan Delivery, error) {
	deliveries, err := s.ch.Consume(
		queue,
		"", // consumer tag
		autoAck,
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, classify(err, "Broker.Consume")
	}

	out := make(chan Delivery)
	go forwardDeliveries(deliveries, out, s.done)
	return out, nil
}

// forwardDeliveries copies broker deliveries to out until the source stream
// closes or the session is closed. The consumer is allowed to stop reading
// before the stream ends; the done channel keeps a mid-send forwarder from
// outliving the session.
func forwardDeliveries(in <-chan amqp.Delivery, out chan<- Delivery, done <-chan struct{}) {
	defer close(out)
	for d := range in {
		select {
		case out <- Delivery{
			Body:        d.Body,
			RoutingKey:  d.RoutingKey,
			Exchange:    d.Exchange,
			ContentType: d.ContentType,
		}:
		case <-done:
			return
		}
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.ch.Close()
}

// classify maps an AMQP channel error to the service taxonomy. A 406
// precondition failure means the topology was redeclared with conflicting
// parameters; everything else collapses the session and counts as a
// connection-level failure.
func classify(err error, op string) error {
	code := svcerror.ErrConnectionError
	msg := "channel failure"

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		code = svcerror.ErrTopologyConflict
		msg = "conflicting redeclaration"
	}

	return svcerror.New(
		code,
		svcerror.WithOp(op),
		svcerror.WithMsg(msg),
		svcerror.WithCause(err),
		svcerror.WithTime(time.Now().UTC()),
	)
}
