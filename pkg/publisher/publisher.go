package publisher

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AnnaFoldberg/tea-app/pkg/broker"
	svcerror "github.com/AnnaFoldberg/tea-app/pkg/error"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publisher_events_published_total",
		Help: "Events successfully written to the broker",
	}, []string{"topic"})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publisher_errors_total",
		Help: "Failed publish attempts",
	})
)

// Dialer opens broker connections. Satisfied by broker.Dialer.
type Dialer interface {
	Dial(ctx context.Context) (broker.Conn, error)
}

// Publisher writes typed domain events onto broker topics. The underlying
// connection is opened lazily on first use; the mutex ensures concurrent
// first callers share a single connection attempt instead of racing to open
// duplicates. Delivery is fire-and-forget: a failed publish is surfaced to
// the immediate caller and nothing is retained about the outcome.
type Publisher struct {
	dialer Dialer

	mu   sync.Mutex
	conn broker.Conn
	sess broker.Session
}

func NewPublisher(dialer Dialer) *Publisher {
	return &Publisher{dialer: dialer}
}

// Publish JSON-encodes event and writes it to topic as a persistent message.
// The target topic is declared before every send so publishing to a topic
// nobody has declared yet still works; declaration is idempotent.
func (p *Publisher) Publish(ctx context.Context, topic broker.Topic, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return svcerror.New(
			svcerror.ErrInternalError,
			svcerror.WithOp("Publisher.Publish"),
			svcerror.WithMsg("marshal event"),
			svcerror.WithCause(err),
			svcerror.WithTime(time.Now().UTC()),
		)
	}

	sess, err := p.session(ctx)
	if err != nil {
		publishErrors.Inc()
		return svcerror.AddOp(err, "Publisher.Publish")
	}

	if err := sess.DeclareTopic(topic); err != nil {
		publishErrors.Inc()
		p.reset()
		return svcerror.AddOp(err, "Publisher.Publish")
	}

	if err := sess.Publish(ctx, topic, routingKey, body, true); err != nil {
		publishErrors.Inc()
		p.reset()
		return svcerror.AddOp(err, "Publisher.Publish")
	}

	eventsPublished.WithLabelValues(topic.Name).Inc()
	return nil
}

// session returns the cached broker session, dialing on first use. Exactly
// one connection attempt proceeds under the lock; concurrent callers wait
// for its result.
func (p *Publisher) session(ctx context.Context) (broker.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess != nil {
		return p.sess, nil
	}

	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := conn.Session()
	if err != nil {
		conn.Close()
		return nil, err
	}

	p.conn = conn
	p.sess = sess
	return sess, nil
}

// reset drops the cached connection after a transport failure so the next
// publish dials fresh.
func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess != nil {
		if err := p.sess.Close(); err != nil {
			log.Printf("[PUBLISHER] Error closing session: %v", err)
		}
		p.sess = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			log.Printf("[PUBLISHER] Error closing connection: %v", err)
		}
		p.conn = nil
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	if p.sess != nil {
		if err := p.sess.Close(); err != nil {
			lastErr = err
		}
		p.sess = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			lastErr = err
		}
		p.conn = nil
	}
	return lastErr
}
