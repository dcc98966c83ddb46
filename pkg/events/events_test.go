package events_test

import (
	"errors"
	"testing"
	"time"

	svcerror "github.com/AnnaFoldberg/tea-app/pkg/error"
	"github.com/AnnaFoldberg/tea-app/pkg/events"
)

func TestDecode(t *testing.T) {
	t.Run("decodes a valid order placement", func(t *testing.T) {
		raw := []byte(`{"orderId":"abc","productId":"earl-grey"}`)

		evt, err := events.Decode[events.OrderPlaced](raw)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if evt.OrderID != "abc" || evt.ProductID != "earl-grey" {
			t.Errorf("unexpected event: %+v", evt)
		}
	})

	t.Run("decodes timestamps as RFC-3339", func(t *testing.T) {
		raw := []byte(`{"orderId":"abc","productId":"earl-grey","observedAt":"2026-01-02T15:04:05Z"}`)

		evt, err := events.Decode[events.BrewProgress](raw)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
		if !evt.ObservedAt.Equal(want) {
			t.Errorf("expected %s, got %s", want, evt.ObservedAt)
		}
	})

	t.Run("malformed payload is a decode error", func(t *testing.T) {
		_, err := events.Decode[events.BrewProgress]([]byte(`not json`))
		if !errors.Is(err, svcerror.ErrDecodeError) {
			t.Errorf("expected ErrDecodeError, got %v", err)
		}
	})

	t.Run("payload without an order id is a decode error", func(t *testing.T) {
		_, err := events.Decode[events.BrewCompleted]([]byte(`{"success":true}`))
		if !errors.Is(err, svcerror.ErrDecodeError) {
			t.Errorf("expected ErrDecodeError, got %v", err)
		}
	})
}
