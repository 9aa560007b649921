package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/orderflow/internal/event"
	"github.com/commercekit/orderflow/internal/order/domain"
)

type memRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemRepo() *memRepo {
	return &memRepo{orders: make(map[string]domain.Order)}
}

func (r *memRepo) Create(ctx context.Context, o domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
	return nil
}

func (r *memRepo) Get(ctx context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	r.orders[id] = o
	return nil
}

type capturePublisher struct {
	published []event.Event
	keys      []string
	failWith  error
}

func (p *capturePublisher) Publish(ctx context.Context, routingKey string, ev event.Event) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.published = append(p.published, ev)
	p.keys = append(p.keys, routingKey)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		CustomerID:       "cust-1",
		ShippingAddress:  domain.ShippingAddress{Country: "DE", City: "Berlin", Street: "x", PostalCode: "10117"},
		PaymentReference: "pay-1",
		Items:            []domain.OrderItem{{ProductID: "P1", Quantity: 3}},
	}
}

func TestCreateOrderPublishesEvent(t *testing.T) {
	repo := newMemRepo()
	pub := &capturePublisher{}
	svc := NewService(discardLogger(), repo, pub, "order.created")

	o, err := svc.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, o.Status)

	stored, err := repo.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "order.created", pub.keys[0])
	created, ok := pub.published[0].(event.OrderCreated)
	require.True(t, ok)
	assert.Equal(t, o.ID, created.OrderID)
	assert.Equal(t, o.CorrelationID, created.CorrelationID,
		"the published correlation must equal the one recorded at creation")
	assert.Equal(t, []event.Item{{ProductID: "P1", Quantity: 3}}, created.Items)
}

func TestCreateOrderPublishFailureSurfaces(t *testing.T) {
	repo := newMemRepo()
	pub := &capturePublisher{failWith: errors.New("broker rejected publish")}
	svc := NewService(discardLogger(), repo, pub, "order.created")

	_, err := svc.CreateOrder(context.Background(), validInput())
	require.Error(t, err)

	// The PENDING row stays; this inconsistency window is part of the design.
	require.Len(t, repo.orders, 1)
	for _, o := range repo.orders {
		assert.Equal(t, domain.StatusPending, o.Status)
	}
}

func TestStockReservedConfirmsOrder(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(discardLogger(), repo, &capturePublisher{}, "order.created")

	o, err := svc.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	decision := event.StockReserved{OrderID: o.ID, CorrelationID: o.CorrelationID}
	require.NoError(t, svc.HandleStockDecision(context.Background(), decision))

	got, _ := repo.Get(context.Background(), o.ID)
	assert.Equal(t, domain.StatusConfirmed, got.Status)

	// Redelivery of the same decision is an idempotent no-op.
	require.NoError(t, svc.HandleStockDecision(context.Background(), decision))
	got, _ = repo.Get(context.Background(), o.ID)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
}

func TestStockRejectedCancelsOrder(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(discardLogger(), repo, &capturePublisher{}, "order.created")

	o, err := svc.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	decision := event.StockRejected{
		OrderID:       o.ID,
		CorrelationID: o.CorrelationID,
		Reason:        "Insufficient stock for product P1. Available: 0, Requested: 3",
	}
	require.NoError(t, svc.HandleStockDecision(context.Background(), decision))

	got, _ := repo.Get(context.Background(), o.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestUnknownEventIgnored(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(discardLogger(), repo, &capturePublisher{}, "order.created")

	o, err := svc.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	// An OrderCreated echoed onto the response queue must not touch state.
	err = svc.HandleStockDecision(context.Background(), event.OrderCreated{OrderID: o.ID})
	require.NoError(t, err)

	got, _ := repo.Get(context.Background(), o.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestDecisionForMissingOrderIsSwallowed(t *testing.T) {
	svc := NewService(discardLogger(), newMemRepo(), &capturePublisher{}, "order.created")

	err := svc.HandleStockDecision(context.Background(), event.StockReserved{OrderID: "ghost"})
	assert.NoError(t, err, "a decision for an unknown order must be acked, not requeued")
}
