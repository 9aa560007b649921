package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercekit/orderflow/internal/config"
	"github.com/commercekit/orderflow/internal/order/application"
	orderhttp "github.com/commercekit/orderflow/internal/order/infrastructure/http"
	orderpg "github.com/commercekit/orderflow/internal/order/infrastructure/postgres"
	"github.com/commercekit/orderflow/internal/rabbitmq"
	"github.com/commercekit/orderflow/pkg/logging"
	"github.com/commercekit/orderflow/pkg/shutdown"
	"github.com/commercekit/orderflow/pkg/tracing"
)

func main() {
	cfg, err := config.Load("order-service", ":3000")
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
	if err := orderpg.Migrate(ctx, pool); err != nil {
		log.Error("pg migrate failed", "err", err)
		os.Exit(1)
	}

	// The order side owns its response queue, bound to both decision
	// routing keys on the shared topic exchange.
	transport, err := rabbitmq.Dial(ctx, log, rabbitmq.Config{
		URL:      cfg.Broker.URL,
		Exchange: cfg.Broker.Exchange,
		Bindings: []rabbitmq.Binding{{
			Queue: cfg.Broker.OrderResponsesQ,
			Keys:  []string{cfg.Broker.StockReservedKey, cfg.Broker.StockRejectedKey},
		}},
		Heartbeat:         cfg.Broker.Heartbeat,
		ReconnectInterval: cfg.Broker.ReconnectInterval,
	})
	if err != nil {
		log.Error("rabbitmq connect failed", "err", err)
		os.Exit(1)
	}
	defer transport.Close()

	repo := orderpg.NewRepository(log, pool)
	svc := application.NewService(log, repo, transport, cfg.Broker.OrderCreatedKey)

	if err := transport.Consume(ctx, cfg.Broker.OrderResponsesQ, svc.HandleStockDecision); err != nil {
		log.Error("consumer start failed", "err", err)
		os.Exit(1)
	}

	handler := orderhttp.NewHandler(log, svc)
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
	log.Info("order-service shutdown complete")
}
