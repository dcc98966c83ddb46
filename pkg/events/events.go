package events

import (
	"encoding/json"
	"time"

	"github.com/AnnaFoldberg/tea-app/pkg/broker"
	svcerror "github.com/AnnaFoldberg/tea-app/pkg/error"
)

// Broker topology. Order placement goes over a routed topic consumed by one
// group of baristas; brewing progress and completion are broadcast so any
// number of consumer groups can bind independently.
var (
	TopicOrders        = broker.Topic{Name: "orders", Kind: broker.TopicRouted}
	TopicBrewProgress  = broker.Topic{Name: "brew.progress", Kind: broker.TopicBroadcast}
	TopicBrewCompleted = broker.Topic{Name: "brew.completed", Kind: broker.TopicBroadcast}
)

const (
	RoutingKeyOrderPlaced = "order.placed"

	QueueBaristaOrders     = "barista.orders"
	QueueRelayBrewProgress = "relay.brew.progress"
	QueueRelayBrewComplete = "relay.brew.completed"
)

// DomainEvent is any event carried on the broker. Validate reports whether a
// decoded payload is structurally usable; a payload that fails validation is
// treated the same as one that fails to parse.
type DomainEvent interface {
	Validate() error
}

// OrderPlaced starts exactly one brewing run. Immutable once published.
type OrderPlaced struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
}

func (e OrderPlaced) Validate() error {
	if e.OrderID == "" {
		return svcerror.New(svcerror.ErrDecodeError, svcerror.WithMsg("missing orderId"))
	}
	return nil
}

// BrewProgress is a heartbeat emitted while an order brews. Heartbeats for
// one order are strictly ordered by emission; heartbeats for different
// orders interleave arbitrarily.
type BrewProgress struct {
	OrderID    string    `json:"orderId"`
	ProductID  string    `json:"productId"`
	ObservedAt time.Time `json:"observedAt"`
}

func (e BrewProgress) Validate() error {
	if e.OrderID == "" {
		return svcerror.New(svcerror.ErrDecodeError, svcerror.WithMsg("missing orderId"))
	}
	return nil
}

// BrewCompleted terminates a brewing run. After this event no further
// BrewProgress or BrewCompleted for the same orderId is valid.
type BrewCompleted struct {
	OrderID    string    `json:"orderId"`
	Success    bool      `json:"success"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (e BrewCompleted) Validate() error {
	if e.OrderID == "" {
		return svcerror.New(svcerror.ErrDecodeError, svcerror.WithMsg("missing orderId"))
	}
	return nil
}

// Decode parses a JSON payload into a domain event. Malformed payloads come
// back as ErrDecodeError so consumers can drop them without tearing down
// their consume loop.
func Decode[T DomainEvent](raw []byte) (T, error) {
	var evt T
	if err := json.Unmarshal(raw, &evt); err != nil {
		return evt, svcerror.New(
			svcerror.ErrDecodeError,
			svcerror.WithOp("Events.Decode"),
			svcerror.WithMsg("malformed payload"),
			svcerror.WithCause(err),
			svcerror.WithTime(time.Now().UTC()),
		)
	}
	if err := evt.Validate(); err != nil {
		return evt, svcerror.AddOp(err, "Events.Decode")
	}
	return evt, nil
}
