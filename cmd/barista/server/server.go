package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/AnnaFoldberg/tea-app/cmd/barista/server/handler"
	"github.com/AnnaFoldberg/tea-app/pkg/broker"
	"github.com/AnnaFoldberg/tea-app/pkg/config"
	svcerror "github.com/AnnaFoldberg/tea-app/pkg/error"
	"github.com/AnnaFoldberg/tea-app/pkg/events"
	"github.com/AnnaFoldberg/tea-app/pkg/publisher"
)

// ShutdownGrace bounds how long in-flight brews may run after a shutdown
// signal before their context is cancelled.
const ShutdownGrace = 10 * time.Second

type Server struct {
	Config    *config.Config
	Dialer    broker.Dialer
	Publisher *publisher.Publisher
	Handler   *handler.Handler
}

func NewServer(cfg *config.Config) *Server {
	dialer := broker.Dialer{Config: broker.Config{URL: cfg.Broker.URL}}
	pub := publisher.NewPublisher(dialer)

	return &Server{
		Config:    cfg,
		Dialer:    dialer,
		Publisher: pub,
		Handler:   handler.NewHandler(pub),
	}
}

func (s *Server) Start() error {
	log.Println("Starting Barista Service...")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := s.Dialer.Dial(ctx)
	if err != nil {
		return svcerror.AddOp(err, "Barista.Start")
	}

	sess, deliveries, err := subscribeOrders(conn)
	if err != nil {
		conn.Close()
		return svcerror.AddOp(err, "Barista.Start")
	}

	// Brews run on their own context so a shutdown signal stops intake
	// first and in-flight runs get the grace period to finish.
	brewCtx, cancelBrews := context.WithCancel(context.Background())
	defer cancelBrews()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case d, ok := <-deliveries:
				if !ok {
					return svcerror.New(
						svcerror.ErrConnectionError,
						svcerror.WithOp("Barista.Consume"),
						svcerror.WithMsg("order delivery stream closed"),
						svcerror.WithTime(time.Now().UTC()),
					)
				}
				s.Handler.HandleDelivery(brewCtx, d)
			}
		}
	})

	g.Go(func() error {
		return s.serveMetrics(gctx)
	})

	return s.HandleShutdown(gctx, g, conn, sess, cancelBrews)
}

// subscribeOrders declares the routed order topic and binds the barista
// queue on the exact placement key. Messages are auto-acknowledged on
// receipt: a mid-brew crash loses that order's remaining events.
func subscribeOrders(conn broker.Conn) (broker.Session, <-chan broker.Delivery, error) {
	sess, err := conn.Session()
	if err != nil {
		return nil, nil, err
	}

	if err := sess.DeclareTopic(events.TopicOrders); err != nil {
		sess.Close()
		return nil, nil, err
	}
	if err := sess.Bind(events.QueueBaristaOrders, events.TopicOrders, events.RoutingKeyOrderPlaced); err != nil {
		sess.Close()
		return nil, nil, err
	}

	deliveries, err := sess.Consume(events.QueueBaristaOrders, true)
	if err != nil {
		sess.Close()
		return nil, nil, err
	}
	return sess, deliveries, nil
}

func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: ":" + s.Config.HTTP.MetricsPort, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) HandleShutdown(ctx context.Context, g *errgroup.Group, conn broker.Conn, sess broker.Session, cancelBrews context.CancelFunc) error {
	<-ctx.Done()
	log.Println("Shutdown signal received, commencing graceful shutdown...")

	if !s.Handler.Wait(ShutdownGrace) {
		log.Println("Graceful shutdown timed out, aborting in-flight brews")
	}
	cancelBrews()

	if err := sess.Close(); err != nil {
		log.Printf("Error closing consume session: %v", err)
	}
	if err := s.Publisher.Close(); err != nil {
		log.Printf("Error closing publisher: %v", err)
	}
	if err := conn.Close(); err != nil {
		log.Printf("Error closing broker connection: %v", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Println("Barista Service stopped cleanly")
	return nil
}
