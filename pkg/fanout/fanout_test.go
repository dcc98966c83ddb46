package fanout_test

import (
	"testing"
	"time"

	"github.com/AnnaFoldberg/tea-app/pkg/fanout"
)

func recvOne(t *testing.T, sub *fanout.Subscription) fanout.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return fanout.Event{}
	}
}

func TestBus(t *testing.T) {
	t.Run("every subscriber of a topic receives each publish", func(t *testing.T) {
		bus := fanout.NewBus()
		defer bus.Close()

		first := bus.Subscribe("orders/brewing")
		second := bus.Subscribe("orders/brewing")
		defer first.Close()
		defer second.Close()

		bus.Publish("orders/brewing", []byte("beat"))

		for _, sub := range []*fanout.Subscription{first, second} {
			ev := recvOne(t, sub)
			if string(ev.Data) != "beat" {
				t.Errorf("expected payload %q, got %q", "beat", ev.Data)
			}
			if ev.Topic != "orders/brewing" {
				t.Errorf("expected topic orders/brewing, got %s", ev.Topic)
			}
		}
	})

	t.Run("subscribers only see their own topic", func(t *testing.T) {
		bus := fanout.NewBus()
		defer bus.Close()

		brewing := bus.Subscribe("orders/brewing")
		brewed := bus.Subscribe("orders/brewed")
		defer brewing.Close()
		defer brewed.Close()

		bus.Publish("orders/brewed", []byte("done"))

		ev := recvOne(t, brewed)
		if string(ev.Data) != "done" {
			t.Errorf("expected payload %q, got %q", "done", ev.Data)
		}

		select {
		case ev := <-brewing.Events():
			t.Errorf("unexpected event on brewing topic: %+v", ev)
		default:
		}
	})

	t.Run("closed subscription stops receiving", func(t *testing.T) {
		bus := fanout.NewBus()
		defer bus.Close()

		sub := bus.Subscribe("orders/brewing")
		sub.Close()

		bus.Publish("orders/brewing", []byte("beat"))

		if _, ok := <-sub.Events(); ok {
			t.Error("expected closed event channel")
		}
	})

	t.Run("slow subscriber does not block the rest", func(t *testing.T) {
		bus := fanout.NewBus()
		defer bus.Close()

		slow := bus.Subscribe("orders/brewing")
		live := bus.Subscribe("orders/brewing")
		defer slow.Close()
		defer live.Close()

		// Overflow the slow subscriber's buffer without draining it.
		for i := 0; i < 64; i++ {
			bus.Publish("orders/brewing", []byte("beat"))
		}

		// The draining subscriber still got everything its buffer holds;
		// the point is Publish never blocked.
		recvOne(t, live)
	})

	t.Run("bus close ends every subscription", func(t *testing.T) {
		bus := fanout.NewBus()

		sub := bus.Subscribe("orders/brewing")
		bus.Close()

		if _, ok := <-sub.Events(); ok {
			t.Error("expected closed event channel after bus close")
		}

		// Publish and a late Close must be harmless after shutdown.
		bus.Publish("orders/brewing", []byte("beat"))
		sub.Close()
	})
}
