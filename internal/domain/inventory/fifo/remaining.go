package fifo

import (
	"github.com/shopspring/decimal"

	"concreterp/internal/core/types"
)

// ResolveRemaining returns the unconsumed quantity of a layer.
//
// A stored remaining quantity wins. An uninitialized layer counts as fully
// unconsumed: received_qty_kg when set and non-zero, else quantity_received,
// else zero. The second result is true when the value was derived and still
// has to be persisted.
func ResolveRemaining(remaining, receivedKg, quantityReceived decimal.NullDecimal) (types.Kg, bool) {
	if remaining.Valid {
		return remaining.Decimal, false
	}
	if receivedKg.Valid && !receivedKg.Decimal.IsZero() {
		return receivedKg.Decimal, true
	}
	if quantityReceived.Valid {
		return quantityReceived.Decimal, true
	}
	return decimal.Zero, true
}
