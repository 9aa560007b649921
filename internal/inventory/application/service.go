package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/commercekit/orderflow/internal/event"
	"github.com/commercekit/orderflow/internal/inventory/domain"
)

// RoutingKeys names the destinations for the two decision events.
type RoutingKeys struct {
	StockReserved string
	StockRejected string
}

// Service reacts to OrderCreated events: it asks the stock store for an
// all-or-nothing reservation and answers with StockReserved or
// StockRejected on the same correlation.
type Service struct {
	log       *slog.Logger
	store     StockStore
	publisher EventPublisher
	keys      RoutingKeys
	tracer    trace.Tracer
}

func NewService(log *slog.Logger, store StockStore, publisher EventPublisher, keys RoutingKeys) *Service {
	return &Service{
		log:       log,
		store:     store,
		publisher: publisher,
		keys:      keys,
		tracer:    otel.Tracer("inventory-service"),
	}
}

// HandleOrderCreated always returns nil so the inbound message is acked
// regardless of the business outcome: a poisoned order must not loop
// through the queue forever. Internal failures are downgraded to a
// StockRejected publish attempt; if that publish also fails, the
// reservation attempt is lost and only logged.
func (s *Service) HandleOrderCreated(ctx context.Context, ev event.OrderCreated) error {
	ctx, span := s.tracer.Start(ctx, "HandleOrderCreated")
	defer span.End()

	s.log.Info("processing OrderCreated",
		"order_id", ev.OrderID, "correlation_id", ev.CorrelationID)

	items := make([]domain.ItemRequest, 0, len(ev.Items))
	for _, it := range ev.Items {
		items = append(items, domain.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	res, err := s.store.Reserve(ctx, items)
	if err != nil {
		s.reject(ctx, ev, fmt.Sprintf("Internal error: %v", err))
		return nil
	}

	if !res.Reserved {
		reason := domain.FailureReason(res.Checks)
		s.log.Info("stock rejected", "order_id", ev.OrderID, "reason", reason)
		s.reject(ctx, ev, reason)
		return nil
	}

	reserved := event.StockReserved{
		OrderID:       ev.OrderID,
		CorrelationID: ev.CorrelationID,
		ReservedItems: ev.Items,
	}
	if err := s.publisher.Publish(ctx, s.keys.StockReserved, reserved); err != nil {
		s.log.Error("StockReserved publish failed", "order_id", ev.OrderID, "err", err)
		return nil
	}
	s.log.Info("stock reserved", "order_id", ev.OrderID)
	return nil
}

func (s *Service) reject(ctx context.Context, ev event.OrderCreated, reason string) {
	rejected := event.StockRejected{
		OrderID:       ev.OrderID,
		CorrelationID: ev.CorrelationID,
		Reason:        reason,
	}
	if err := s.publisher.Publish(ctx, s.keys.StockRejected, rejected); err != nil {
		s.log.Error("StockRejected publish failed",
			"order_id", ev.OrderID, "reason", reason, "err", err)
	}
}

// ProductStock is the read-model row served by the HTTP layer.
type ProductStock struct {
	ProductID         string    `json:"productId"`
	AvailableStock    int       `json:"availableStock"`
	ReservedStock     int       `json:"reservedStock"`
	ActuallyAvailable int       `json:"actuallyAvailable"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (s *Service) GetProductStock(ctx context.Context, productID string) (ProductStock, error) {
	rec, err := s.store.Get(ctx, productID)
	if err != nil {
		return ProductStock{}, err
	}
	return toProductStock(rec), nil
}

func (s *Service) ListProducts(ctx context.Context) ([]ProductStock, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProductStock, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toProductStock(rec))
	}
	return out, nil
}

func toProductStock(rec domain.StockRecord) ProductStock {
	return ProductStock{
		ProductID:         rec.ProductID,
		AvailableStock:    rec.AvailableStock,
		ReservedStock:     rec.ReservedStock,
		ActuallyAvailable: rec.Effective(),
		UpdatedAt:         rec.UpdatedAt,
	}
}
