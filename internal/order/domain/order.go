package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusCancelled OrderStatus = "CANCELLED"
)

var ErrNoItems = errors.New("order must contain at least one item")
var ErrInvalidQuantity = errors.New("item quantity must be positive")

type ShippingAddress struct {
	Country    string `json:"country"`
	City       string `json:"city"`
	Street     string `json:"street"`
	PostalCode string `json:"postalCode"`
}

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Order moves from PENDING to exactly one terminal status, driven by the
// stock decision event carrying its correlation ID. Terminal statuses
// never transition again; a redelivered decision re-assigns the same
// value, which is harmless.
type Order struct {
	ID               string          `json:"id"`
	CustomerID       string          `json:"customerId"`
	ShippingAddress  ShippingAddress `json:"shippingAddress"`
	PaymentReference string          `json:"paymentReference"`
	CorrelationID    string          `json:"correlationId"`
	Status           OrderStatus     `json:"status"`
	Items            []OrderItem     `json:"items"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// NewOrder assigns the order ID and the correlation ID that every event
// for this order must carry unchanged.
func NewOrder(customerID string, address ShippingAddress, paymentRef string, items []OrderItem) (Order, error) {
	if len(items) == 0 {
		return Order{}, ErrNoItems
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return Order{}, ErrInvalidQuantity
		}
	}
	now := time.Now().UTC()
	return Order{
		ID:               uuid.NewString(),
		CustomerID:       customerID,
		ShippingAddress:  address,
		PaymentReference: paymentRef,
		CorrelationID:    uuid.NewString(),
		Status:           StatusPending,
		Items:            items,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
