package application

import (
	"context"
	"errors"

	"github.com/commercekit/orderflow/internal/event"
	"github.com/commercekit/orderflow/internal/inventory/domain"
)

var ErrProductNotFound = errors.New("product not found")

// StockStore is the only mutation path for reservation counters.
// Reserve must be atomic across the batch: conflicting concurrent
// batches serialize as if executed one at a time and can never jointly
// overcommit effective stock.
type StockStore interface {
	Reserve(ctx context.Context, items []domain.ItemRequest) (domain.Reservation, error)
	Get(ctx context.Context, productID string) (domain.StockRecord, error)
	List(ctx context.Context) ([]domain.StockRecord, error)
}

// EventPublisher publishes an outcome event to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, ev event.Event) error
}
