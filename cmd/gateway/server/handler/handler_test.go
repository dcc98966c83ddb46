package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AnnaFoldberg/tea-app/cmd/gateway/server/handler"
	"github.com/AnnaFoldberg/tea-app/pkg/broker"
	"github.com/AnnaFoldberg/tea-app/pkg/events"
	"github.com/AnnaFoldberg/tea-app/pkg/fanout"
	"github.com/AnnaFoldberg/tea-app/pkg/models"
	"github.com/AnnaFoldberg/tea-app/pkg/registry"
	"github.com/AnnaFoldberg/tea-app/pkg/utils"
)

type recordedPublish struct {
	topic      broker.Topic
	routingKey string
	event      any
}

type mockPublisher struct {
	mu        sync.Mutex
	published []recordedPublish
	err       error
}

func (m *mockPublisher) Publish(ctx context.Context, topic broker.Topic, routingKey string, event any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, recordedPublish{topic, routingKey, event})
	return nil
}

func newTestRouter(pub *mockPublisher) (*gin.Engine, registry.Registry[models.OrderRecord]) {
	gin.SetMode(gin.TestMode)

	orders := registry.NewMemoryRegistry(func(r models.OrderRecord) string { return r.OrderID })
	h := handler.NewHandler(pub, orders, fanout.NewBus())

	router := gin.New()
	router.POST("/api/v1/orders", h.PlaceOrder)
	router.GET("/api/v1/orders", h.ListOrders)
	router.GET("/api/v1/orders/:id", h.GetOrder)
	return router, orders
}

func decodeData[T any](t *testing.T, body []byte) T {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	var data T
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("response data does not decode: %v", err)
	}
	return data
}

func TestPlaceOrder(t *testing.T) {
	t.Run("records the order and publishes OrderPlaced", func(t *testing.T) {
		pub := &mockPublisher{}
		router, orders := newTestRouter(pub)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"productId":"earl-grey"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}

		got := decodeData[models.OrderResponse](t, w.Body.Bytes())
		if got.OrderID == "" {
			t.Fatal("expected a generated order id")
		}
		if got.ProductID != "earl-grey" || !got.Accepted {
			t.Errorf("unexpected response: %+v", got)
		}

		record, err := orders.Get(context.Background(), got.OrderID)
		if err != nil {
			t.Fatalf("registry lookup failed: %v", err)
		}
		want := models.OrderRecord{OrderID: got.OrderID, ProductID: "earl-grey", Accepted: true}
		if record != want {
			t.Errorf("expected registry record %+v, got %+v", want, record)
		}

		if len(pub.published) != 1 {
			t.Fatalf("expected 1 publish, got %d", len(pub.published))
		}
		published := pub.published[0]
		if published.topic != events.TopicOrders {
			t.Errorf("published to %+v, expected %+v", published.topic, events.TopicOrders)
		}
		if published.routingKey != events.RoutingKeyOrderPlaced {
			t.Errorf("routing key %q, expected %q", published.routingKey, events.RoutingKeyOrderPlaced)
		}
		placed, ok := published.event.(events.OrderPlaced)
		if !ok {
			t.Fatalf("published event is not OrderPlaced: %T", published.event)
		}
		if placed.OrderID != got.OrderID || placed.ProductID != "earl-grey" {
			t.Errorf("unexpected published event: %+v", placed)
		}
	})

	t.Run("rejects a request without a product", func(t *testing.T) {
		pub := &mockPublisher{}
		router, _ := newTestRouter(pub)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
		if len(pub.published) != 0 {
			t.Errorf("expected no publish for a rejected request, got %d", len(pub.published))
		}
	})

	t.Run("reports an internal error when the publish fails", func(t *testing.T) {
		pub := &mockPublisher{err: context.DeadlineExceeded}
		router, _ := newTestRouter(pub)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"productId":"sencha"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", w.Code)
		}
	})
}

func TestGetOrder(t *testing.T) {
	t.Run("returns the recorded order", func(t *testing.T) {
		pub := &mockPublisher{}
		router, orders := newTestRouter(pub)

		orders.Upsert(context.Background(), models.OrderRecord{OrderID: "abc", ProductID: "earl-grey", Accepted: true})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/abc", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		got := decodeData[models.OrderResponse](t, w.Body.Bytes())
		if got.OrderID != "abc" || got.ProductID != "earl-grey" || !got.Accepted {
			t.Errorf("unexpected response: %+v", got)
		}
	})

	t.Run("unknown order is a 404", func(t *testing.T) {
		pub := &mockPublisher{}
		router, _ := newTestRouter(pub)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/nope", nil))

		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}

		var resp utils.Response
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("response is not valid JSON: %v", err)
		}
		if resp.Success || resp.Error == nil {
			t.Errorf("expected error response, got %+v", resp)
		}
	})
}

func TestListOrders(t *testing.T) {
	pub := &mockPublisher{}
	router, orders := newTestRouter(pub)

	orders.Upsert(context.Background(), models.OrderRecord{OrderID: "a1", ProductID: "earl-grey", Accepted: true})
	orders.Upsert(context.Background(), models.OrderRecord{OrderID: "a2", ProductID: "sencha", Accepted: true})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := decodeData[[]models.OrderRecord](t, w.Body.Bytes())
	if len(got) != 2 {
		t.Errorf("expected 2 records, got %d", len(got))
	}
}
