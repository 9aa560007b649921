package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/orderflow/internal/event"
	"github.com/commercekit/orderflow/internal/order/application"
	"github.com/commercekit/orderflow/internal/order/domain"
)

type memRepo struct {
	orders map[string]domain.Order
}

func (r *memRepo) Create(ctx context.Context, o domain.Order) error {
	r.orders[o.ID] = o
	return nil
}

func (r *memRepo) Get(ctx context.Context, id string) (domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, application.ErrOrderNotFound
	}
	return o, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	o, ok := r.orders[id]
	if !ok {
		return application.ErrOrderNotFound
	}
	o.Status = status
	r.orders[id] = o
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, routingKey string, ev event.Event) error {
	return nil
}

func newTestHandler() (*Handler, *memRepo) {
	log := slog.New(slog.DiscardHandler)
	repo := &memRepo{orders: make(map[string]domain.Order)}
	svc := application.NewService(log, repo, nopPublisher{}, "order.created")
	return NewHandler(log, svc), repo
}

const validBody = `{
	"customerId": "cust-1",
	"paymentReference": "pay-1",
	"shippingAddress": {"country": "DE", "city": "Berlin", "street": "x", "postalCode": "10117"},
	"items": [{"productId": "P1", "quantity": 2}]
}`

func TestCreateOrderEndpoint(t *testing.T) {
	h, repo := newTestHandler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(validBody))
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var o domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.NotEmpty(t, o.ID)
	assert.NotEmpty(t, o.CorrelationID)
	assert.Contains(t, repo.orders, o.ID)
}

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing customer", `{"paymentReference":"p","shippingAddress":{"country":"DE","city":"B","street":"x","postalCode":"1"},"items":[{"productId":"P1","quantity":1}]}`},
		{"no items", `{"customerId":"c","paymentReference":"p","shippingAddress":{"country":"DE","city":"B","street":"x","postalCode":"1"},"items":[]}`},
		{"zero quantity", `{"customerId":"c","paymentReference":"p","shippingAddress":{"country":"DE","city":"B","street":"x","postalCode":"1"},"items":[{"productId":"P1","quantity":0}]}`},
		{"missing shipping field", `{"customerId":"c","paymentReference":"p","shippingAddress":{"country":"DE"},"items":[{"productId":"P1","quantity":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tt.body))
			h.Routes().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	h, repo := newTestHandler()

	o, err := domain.NewOrder("cust-1",
		domain.ShippingAddress{Country: "DE", City: "B", Street: "x", PostalCode: "1"},
		"pay-1", []domain.OrderItem{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)
	repo.orders[o.ID] = o

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/"+o.ID, nil)
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.CorrelationID, got.CorrelationID)
}

func TestGetOrderNotFound(t *testing.T) {
	h, _ := newTestHandler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/nope", nil)
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
