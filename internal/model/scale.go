package model

import "github.com/shopspring/decimal"

// Decimal places the ledger tables store. Quantities, thresholds and batch
// unit costs are entered at QuantityScale; journal costs derived from them
// are kept at CostScale.
const (
	QuantityScale = 4
	CostScale     = 8
)

// FitsScale reports whether d needs no more than places decimal places.
// Trailing zeros do not count.
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
