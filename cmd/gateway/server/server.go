package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/AnnaFoldberg/tea-app/cmd/gateway/server/handler"
	"github.com/AnnaFoldberg/tea-app/pkg/bridge"
	"github.com/AnnaFoldberg/tea-app/pkg/broker"
	"github.com/AnnaFoldberg/tea-app/pkg/config"
	"github.com/AnnaFoldberg/tea-app/pkg/fanout"
	"github.com/AnnaFoldberg/tea-app/pkg/models"
	"github.com/AnnaFoldberg/tea-app/pkg/publisher"
	"github.com/AnnaFoldberg/tea-app/pkg/registry"
)

type Server struct {
	Config    *config.Config
	Publisher *publisher.Publisher
	Bus       *fanout.Bus
	Relay     *bridge.Relay
	Handler   *handler.Handler
	Router    *gin.Engine
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	dialer := broker.Dialer{Config: broker.Config{URL: cfg.Broker.URL}}
	pub := publisher.NewPublisher(dialer)
	bus := fanout.NewBus()

	orders, err := registry.NewRegistry(ctx, registry.RegistryType(cfg.Registry.Type), "order:", func(r models.OrderRecord) string {
		return r.OrderID
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to create order registry: %w", err)
	}

	server := &Server{
		Config:    cfg,
		Publisher: pub,
		Bus:       bus,
		Relay:     bridge.NewRelay(dialer, bus),
		Handler:   handler.NewHandler(pub, orders, bus),
	}

	server.SetupRouter()

	return server, nil
}

func (s *Server) SetupRouter() {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	//	middleware
	router.Use(gin.Recovery())

	// routes
	api := router.Group("/api/v1")
	{
		orders := api.Group("/orders")
		{
			orders.POST("", s.Handler.PlaceOrder)
			orders.GET("", s.Handler.ListOrders)
			orders.GET("/:id", s.Handler.GetOrder)
			orders.GET("/stream", s.Handler.StreamEvents)
		}
	}
	router.GET("/health", s.Handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.Router = router
}

func (s *Server) Start() error {
	log.Println("Starting API Gateway...")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:        ":" + s.Config.HTTP.Port,
		Handler:     s.Router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("API Gateway listening on :%s", s.Config.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := s.Relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return s.HandleShutdown(gctx, g, srv)
}

func (s *Server) HandleShutdown(ctx context.Context, g *errgroup.Group, srv *http.Server) error {
	<-ctx.Done()
	log.Println("Shutting down API Gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Closing the bus first ends live SSE streams so the HTTP server can
	// drain within the shutdown window.
	s.Bus.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server: %v", err)
	}
	if err := s.Publisher.Close(); err != nil {
		log.Printf("Failed to close publisher: %v", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Println("API Gateway stopped")
	return nil
}
