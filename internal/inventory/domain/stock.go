// Package domain holds the stock ledger model. A StockRecord tracks the
// total allocatable quantity and the slice of it committed to in-flight
// or confirmed orders; the sellable quantity is the difference.
//
// Known limitation carried over from the system design: a cancelled
// order never releases its reservation, so reservedStock only grows.
package domain

import (
	"fmt"
	"strings"
	"time"
)

type StockRecord struct {
	ProductID      string
	AvailableStock int
	ReservedStock  int
	UpdatedAt      time.Time
}

// Effective is the quantity actually sellable right now.
func (r StockRecord) Effective() int {
	return r.AvailableStock - r.ReservedStock
}

// ItemRequest is one (product, quantity) line of a reservation batch.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// AggregateItems merges duplicate product lines, summing their
// quantities and keeping first-occurrence order, so a batch listing one
// product twice is checked against its combined demand instead of
// passing two independent checks on the same snapshot.
func AggregateItems(items []ItemRequest) []ItemRequest {
	index := make(map[string]int, len(items))
	out := make([]ItemRequest, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

// Check is the outcome of evaluating one requested item.
type Check struct {
	ProductID string
	Quantity  int
	OK        bool
	Reason    string
}

// Evaluate decides whether one item can be reserved against its record.
// rec is nil when the product does not exist.
func Evaluate(rec *StockRecord, productID string, quantity int) Check {
	if rec == nil {
		return Check{
			ProductID: productID,
			Quantity:  quantity,
			Reason:    fmt.Sprintf("Product %s not found", productID),
		}
	}
	if eff := rec.Effective(); eff < quantity {
		return Check{
			ProductID: productID,
			Quantity:  quantity,
			Reason: fmt.Sprintf("Insufficient stock for product %s. Available: %d, Requested: %d",
				productID, eff, quantity),
		}
	}
	return Check{ProductID: productID, Quantity: quantity, OK: true}
}

// Reservation is the all-or-nothing outcome of a batch: either every
// item was reserved or no counter moved at all.
type Reservation struct {
	Reserved bool
	Checks   []Check
}

// FailureReason joins the failing checks' reasons in input order.
func FailureReason(checks []Check) string {
	var reasons []string
	for _, c := range checks {
		if !c.OK {
			reasons = append(reasons, c.Reason)
		}
	}
	return strings.Join(reasons, "; ")
}
