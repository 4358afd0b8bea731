package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ID                 ID              `db:"id" json:"id"`
	SKU                string          `db:"sku" json:"sku"`
	Name               string          `db:"name" json:"name"`
	Category           string          `db:"category" json:"category"`
	Unit               string          `db:"unit" json:"unit"`
	DefaultSupplierRef *string         `db:"default_supplier_ref" json:"default_supplier_ref,omitempty"`
	ReorderThreshold   decimal.Decimal `db:"reorder_threshold" json:"reorder_threshold"`
	MinStock           decimal.Decimal `db:"min_stock" json:"min_stock"`
	CurrentQuantity    decimal.Decimal `db:"current_quantity" json:"current_quantity"` // derived, see recompute
	Active             bool            `db:"active" json:"active"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// BelowReorder reports whether the item should show up in the low-stock view.
func (i *Item) BelowReorder() bool {
	return i.CurrentQuantity.LessThan(i.ReorderThreshold)
}
