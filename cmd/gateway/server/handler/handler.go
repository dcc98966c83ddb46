package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AnnaFoldberg/tea-app/pkg/bridge"
	"github.com/AnnaFoldberg/tea-app/pkg/broker"
	svcerror "github.com/AnnaFoldberg/tea-app/pkg/error"
	"github.com/AnnaFoldberg/tea-app/pkg/events"
	"github.com/AnnaFoldberg/tea-app/pkg/fanout"
	"github.com/AnnaFoldberg/tea-app/pkg/models"
	"github.com/AnnaFoldberg/tea-app/pkg/registry"
	"github.com/AnnaFoldberg/tea-app/pkg/utils"
)

var ordersPlaced = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gateway_orders_placed_total",
	Help: "Orders accepted and published for brewing",
})

type Publisher interface {
	Publish(ctx context.Context, topic broker.Topic, routingKey string, event any) error
}

type Handler struct {
	Publisher Publisher
	Orders    registry.Registry[models.OrderRecord]
	Bus       *fanout.Bus
}

func NewHandler(publisher Publisher, orders registry.Registry[models.OrderRecord], bus *fanout.Bus) *Handler {
	return &Handler{
		Publisher: publisher,
		Orders:    orders,
		Bus:       bus,
	}
}

// PlaceOrder accepts a placement request, records it in the registry and
// publishes OrderPlaced. Once the event is accepted the workflow is
// fire-and-forget; downstream failures never reach this caller.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req models.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Invalid request format: %v", err)
		utils.SendValidationError(c, err)
		return
	}

	record := models.OrderRecord{
		OrderID:   uuid.NewString(),
		ProductID: req.ProductID,
		Accepted:  true,
	}

	if err := h.Orders.Upsert(c, record); err != nil {
		log.Printf("Failed to record order: %v", err)
		utils.SendInternalError(c, "Failed to process order")
		return
	}

	placed := events.OrderPlaced{
		OrderID:   record.OrderID,
		ProductID: record.ProductID,
	}
	if err := h.Publisher.Publish(c, events.TopicOrders, events.RoutingKeyOrderPlaced, placed); err != nil {
		log.Printf("Failed to publish order: %v", err)
		utils.SendInternalError(c, "Failed to process order")
		return
	}

	ordersPlaced.Inc()
	log.Printf("Order placed successfully: %s", record.OrderID)

	utils.SendSuccess(c, http.StatusCreated, "Order received and being brewed", models.OrderResponse{
		OrderID:   record.OrderID,
		ProductID: record.ProductID,
		Accepted:  record.Accepted,
	})
}

func (h *Handler) GetOrder(c *gin.Context) {
	id := c.Param("id")

	record, err := h.Orders.Get(c, id)
	if err != nil {
		if errors.Is(err, svcerror.ErrNotFound) {
			utils.SendNotFound(c, "Order not found")
			return
		}
		log.Printf("Failed to load order %s: %v", id, err)
		utils.SendInternalError(c, "Failed to load order")
		return
	}

	utils.SendSuccess(c, http.StatusOK, "Order retrieved", models.OrderResponse{
		OrderID:   record.OrderID,
		ProductID: record.ProductID,
		Accepted:  record.Accepted,
	})
}

func (h *Handler) ListOrders(c *gin.Context) {
	records, err := h.Orders.GetAll(c)
	if err != nil {
		log.Printf("Failed to list orders: %v", err)
		utils.SendInternalError(c, "Failed to list orders")
		return
	}

	utils.SendSuccess(c, http.StatusOK, "Orders retrieved", records)
}

// StreamEvents pushes live brewing events to the caller over SSE. Each
// subscriber gets its own fan-out subscription; events published while
// nobody is connected are simply not seen.
func (h *Handler) StreamEvents(c *gin.Context) {
	topic := c.DefaultQuery("topic", bridge.StreamTopicBrewing)
	if topic != bridge.StreamTopicBrewing && topic != bridge.StreamTopicBrewed {
		utils.SendError(c, http.StatusBadRequest, "UNKNOWN_TOPIC", "Unknown stream topic", topic)
		return
	}

	sub := h.Bus.Subscribe(topic)
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(ev.Topic, string(ev.Data))
			return true
		}
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	health := map[string]any{
		"status":  "healthy",
		"service": "gateway",
	}
	utils.SendSuccess(c, http.StatusOK, "Service is Healthy", health)
}
