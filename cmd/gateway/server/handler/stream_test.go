package handler_test

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnnaFoldberg/tea-app/cmd/gateway/server/handler"
	"github.com/AnnaFoldberg/tea-app/pkg/fanout"
	"github.com/AnnaFoldberg/tea-app/pkg/models"
	"github.com/AnnaFoldberg/tea-app/pkg/registry"
)

func TestStreamEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newStreamServer := func() (*httptest.Server, *fanout.Bus) {
		bus := fanout.NewBus()
		orders := registry.NewMemoryRegistry(func(r models.OrderRecord) string { return r.OrderID })
		h := handler.NewHandler(&mockPublisher{}, orders, bus)

		router := gin.New()
		router.GET("/api/v1/orders/stream", h.StreamEvents)
		return httptest.NewServer(router), bus
	}

	t.Run("rejects unknown topics", func(t *testing.T) {
		srv, bus := newStreamServer()
		defer srv.Close()
		defer bus.Close()

		resp, err := http.Get(srv.URL + "/api/v1/orders/stream?topic=orders/unknown")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("pushes live fan-out events to the subscriber", func(t *testing.T) {
		srv, bus := newStreamServer()
		defer srv.Close()
		defer bus.Close()

		payload := `{"orderId":"abc","productId":"earl-grey"}`

		// The subscription only exists once the request is being served, so
		// keep publishing until the subscriber reads something.
		stopPublishing := make(chan struct{})
		defer close(stopPublishing)
		go func() {
			ticker := time.NewTicker(5 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stopPublishing:
					return
				case <-ticker.C:
					bus.Publish("orders/brewing", []byte(payload))
				}
			}
		}()

		resp, err := http.Get(srv.URL + "/api/v1/orders/stream?topic=orders/brewing")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
			t.Errorf("expected text/event-stream content type, got %q", got)
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if !strings.Contains(line, "abc") {
				t.Errorf("unexpected event payload: %q", line)
			}
			return
		}
		t.Fatalf("stream ended without an event: %v", scanner.Err())
	})
}
