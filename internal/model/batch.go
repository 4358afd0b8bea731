package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Batch struct {
	ID                ID              `db:"id" json:"id"`
	ItemID            ID              `db:"item_id" json:"item_id"`
	BatchNumber       *string         `db:"batch_number" json:"batch_number,omitempty"`
	QuantityReceived  decimal.Decimal `db:"quantity_received" json:"quantity_received"`
	RemainingQuantity decimal.Decimal `db:"remaining_quantity" json:"remaining_quantity"`
	UnitCost          decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	PurchaseDate      time.Time       `db:"purchase_date" json:"purchase_date"`
	ExpiryDate        *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	SupplierRef       *string         `db:"supplier_ref" json:"supplier_ref,omitempty"`
	PORef             *string         `db:"po_ref" json:"po_ref,omitempty"`
	Active            bool            `db:"active" json:"active"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// HasStock returns true if the batch can still be drawn from.
func (b *Batch) HasStock() bool {
	return b.Active && b.RemainingQuantity.IsPositive()
}

// ExpiresBy reports whether the batch has an expiry date at or before t.
func (b *Batch) ExpiresBy(t time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return !b.ExpiryDate.After(t)
}

// Value is the cost of what is left in the batch.
func (b *Batch) Value() decimal.Decimal {
	return b.RemainingQuantity.Mul(b.UnitCost)
}

// FIFOLess orders batches by purchase date, then id.
func FIFOLess(a, b *Batch) bool {
	if !a.PurchaseDate.Equal(b.PurchaseDate) {
		return a.PurchaseDate.Before(b.PurchaseDate)
	}
	return a.ID < b.ID
}
