// Package event defines the wire contract shared by the order and
// inventory services. It is a closed set of three JSON envelopes tagged
// by an eventType field; nothing else travels between the services.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

const (
	TypeOrderCreated  Type = "OrderCreated"
	TypeStockReserved Type = "StockReserved"
	TypeStockRejected Type = "StockRejected"
)

// ErrUnknownType marks a syntactically valid envelope whose tag is not
// part of the contract. Consumers treat it as an explicit ignore, not as
// a decode failure, so unknown events never poison a queue.
var ErrUnknownType = errors.New("unknown event type")

// Item is one requested or reserved order line on the wire.
type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Event is the tagged union of the three envelopes. CorrelationID is
// assigned once at order creation and must round-trip unchanged through
// every event derived from that order.
type Event interface {
	Kind() Type
	Correlation() string
}

type OrderCreated struct {
	EventType     Type   `json:"eventType"`
	OrderID       string `json:"orderId"`
	CorrelationID string `json:"correlationId"`
	CreatedAt     string `json:"createdAt"`
	Items         []Item `json:"items"`
}

func (e OrderCreated) Kind() Type          { return TypeOrderCreated }
func (e OrderCreated) Correlation() string { return e.CorrelationID }

type StockReserved struct {
	EventType     Type   `json:"eventType"`
	OrderID       string `json:"orderId"`
	CorrelationID string `json:"correlationId"`
	ReservedItems []Item `json:"reservedItems"`
}

func (e StockReserved) Kind() Type          { return TypeStockReserved }
func (e StockReserved) Correlation() string { return e.CorrelationID }

type StockRejected struct {
	EventType     Type   `json:"eventType"`
	OrderID       string `json:"orderId"`
	CorrelationID string `json:"correlationId"`
	Reason        string `json:"reason"`
}

func (e StockRejected) Kind() Type          { return TypeStockRejected }
func (e StockRejected) Correlation() string { return e.CorrelationID }

// Marshal serializes an event, forcing the tag to match the concrete
// type so a half-filled EventType field can't mislabel the envelope.
func Marshal(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case OrderCreated:
		e.EventType = TypeOrderCreated
		return json.Marshal(e)
	case StockReserved:
		e.EventType = TypeStockReserved
		return json.Marshal(e)
	case StockRejected:
		e.EventType = TypeStockRejected
		return json.Marshal(e)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, ev)
	}
}

// Unmarshal decodes an envelope by its tag. A malformed payload returns
// a decode error; a well-formed payload with an unrecognized tag returns
// ErrUnknownType.
func Unmarshal(body []byte) (Event, error) {
	var probe struct {
		EventType Type `json:"eventType"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch probe.EventType {
	case TypeOrderCreated:
		var e OrderCreated
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("decode OrderCreated: %w", err)
		}
		return e, nil
	case TypeStockReserved:
		var e StockReserved
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("decode StockReserved: %w", err)
		}
		return e, nil
	case TypeStockRejected:
		var e StockRejected
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("decode StockRejected: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.EventType)
	}
}
