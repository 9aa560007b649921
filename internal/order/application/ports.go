package application

import (
	"context"
	"errors"

	"github.com/commercekit/orderflow/internal/event"
	"github.com/commercekit/orderflow/internal/order/domain"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderRepository persists orders. UpdateStatus must be idempotent for
// same-value writes: redelivered decision events re-assign the terminal
// status without error.
type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error
}

// EventPublisher publishes an event to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, ev event.Event) error
}
