package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercekit/orderflow/internal/config"
	"github.com/commercekit/orderflow/internal/event"
	"github.com/commercekit/orderflow/internal/inventory/application"
	invhttp "github.com/commercekit/orderflow/internal/inventory/infrastructure/http"
	invpg "github.com/commercekit/orderflow/internal/inventory/infrastructure/postgres"
	"github.com/commercekit/orderflow/internal/rabbitmq"
	"github.com/commercekit/orderflow/pkg/logging"
	"github.com/commercekit/orderflow/pkg/shutdown"
	"github.com/commercekit/orderflow/pkg/tracing"
)

func main() {
	cfg, err := config.Load("inventory-service", ":3001")
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.ServiceName)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTelURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := invpg.Migrate(ctx, pool); err != nil {
		log.Error("pg migrate failed", "err", err)
		os.Exit(1)
	}

	// The inventory side owns the order-intake queue bound to the
	// order.created routing key.
	transport, err := rabbitmq.Dial(ctx, log, rabbitmq.Config{
		URL:      cfg.Broker.URL,
		Exchange: cfg.Broker.Exchange,
		Bindings: []rabbitmq.Binding{{
			Queue: cfg.Broker.OrdersCreatedQ,
			Keys:  []string{cfg.Broker.OrderCreatedKey},
		}},
		Heartbeat:         cfg.Broker.Heartbeat,
		ReconnectInterval: cfg.Broker.ReconnectInterval,
	})
	if err != nil {
		log.Error("rabbitmq connect failed", "err", err)
		os.Exit(1)
	}
	defer transport.Close()

	store := invpg.NewStore(log, pool)
	svc := application.NewService(log, store, transport, application.RoutingKeys{
		StockReserved: cfg.Broker.StockReservedKey,
		StockRejected: cfg.Broker.StockRejectedKey,
	})

	err = transport.Consume(ctx, cfg.Broker.OrdersCreatedQ, func(ctx context.Context, ev event.Event) error {
		created, ok := ev.(event.OrderCreated)
		if !ok {
			log.Warn("ignoring event on intake queue", "event_type", string(ev.Kind()))
			return nil
		}
		return svc.HandleOrderCreated(ctx, created)
	})
	if err != nil {
		log.Error("consumer start failed", "err", err)
		os.Exit(1)
	}

	handler := invhttp.NewHandler(log, svc)
	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("inventory-service shutdown complete")
}
