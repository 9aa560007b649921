package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/commercekit/orderflow/internal/event"
	"github.com/commercekit/orderflow/internal/order/domain"
)

// CreateOrderInput carries the validated fields of an order submission.
type CreateOrderInput struct {
	CustomerID       string
	ShippingAddress  domain.ShippingAddress
	PaymentReference string
	Items            []domain.OrderItem
}

// Service owns the order side of the saga: it creates PENDING orders,
// announces them, and converges each order to a terminal status when its
// stock decision arrives.
type Service struct {
	log             *slog.Logger
	repo            OrderRepository
	publisher       EventPublisher
	orderCreatedKey string
	tracer          trace.Tracer
}

func NewService(log *slog.Logger, repo OrderRepository, publisher EventPublisher, orderCreatedKey string) *Service {
	return &Service{
		log:             log,
		repo:            repo,
		publisher:       publisher,
		orderCreatedKey: orderCreatedKey,
		tracer:          otel.Tracer("order-service"),
	}
}

// CreateOrder persists the order in PENDING and publishes OrderCreated.
// A publish failure is returned to the caller; the PENDING row remains
// and is never reconciled here (no outbox in this design).
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder")
	defer span.End()

	o, err := domain.NewOrder(in.CustomerID, in.ShippingAddress, in.PaymentReference, in.Items)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}
	s.log.Info("order created", "order_id", o.ID, "correlation_id", o.CorrelationID)

	items := make([]event.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, event.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	ev := event.OrderCreated{
		OrderID:       o.ID,
		CorrelationID: o.CorrelationID,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		Items:         items,
	}
	if err := s.publisher.Publish(ctx, s.orderCreatedKey, ev); err != nil {
		return domain.Order{}, fmt.Errorf("publish OrderCreated: %w", err)
	}
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

// HandleStockDecision dispatches on the event tag. Reserved confirms,
// rejected cancels, anything else is ignored so unknown future events
// never break the consumer. Store failures are logged and swallowed: the
// message is acked either way, matching the broker policy for this
// queue.
func (s *Service) HandleStockDecision(ctx context.Context, ev event.Event) error {
	ctx, span := s.tracer.Start(ctx, "HandleStockDecision")
	defer span.End()

	switch e := ev.(type) {
	case event.StockReserved:
		s.transition(ctx, e.OrderID, domain.StatusConfirmed, "")
	case event.StockRejected:
		s.transition(ctx, e.OrderID, domain.StatusCancelled, e.Reason)
	default:
		s.log.Warn("ignoring event on response queue", "event_type", string(ev.Kind()))
	}
	return nil
}

func (s *Service) transition(ctx context.Context, orderID string, status domain.OrderStatus, reason string) {
	if err := s.repo.UpdateStatus(ctx, orderID, status); err != nil {
		s.log.Error("status update failed",
			"order_id", orderID, "status", string(status), "err", err)
		return
	}
	if reason != "" {
		s.log.Info("order status updated",
			"order_id", orderID, "status", string(status), "reason", reason)
		return
	}
	s.log.Info("order status updated", "order_id", orderID, "status", string(status))
}
