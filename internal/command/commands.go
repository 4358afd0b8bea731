package command

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/farm-ledger/internal/domain/inventory"
	"github.com/example/farm-ledger/internal/model"
)

// Actor fields are never decoded from request bodies; the transport fills
// them from the authenticated caller.

// Catalog Commands
type CreateItem struct {
	SKU                string          `json:"sku" validate:"max=64"`
	Name               string          `json:"name" validate:"max=255"`
	Unit               string          `json:"unit" validate:"max=32"`
	Category           string          `json:"category" validate:"max=64"`
	ReorderThreshold   decimal.Decimal `json:"reorder_threshold"`
	MinStock           decimal.Decimal `json:"min_stock"`
	DefaultSupplierRef *string         `json:"default_supplier_ref" validate:"omitempty,max=128"`
}

type UpdateItemPolicy struct {
	ItemID             model.ID         `json:"-" validate:"required"`
	Name               *string          `json:"name" validate:"omitempty,max=255"`
	Category           *string          `json:"category" validate:"omitempty,max=64"`
	ReorderThreshold   *decimal.Decimal `json:"reorder_threshold"`
	MinStock           *decimal.Decimal `json:"min_stock"`
	DefaultSupplierRef *string          `json:"default_supplier_ref" validate:"omitempty,max=128"`
}

type DeactivateItem struct {
	ItemID model.ID `json:"item_id" validate:"required"`
}

type RecomputeBalance struct {
	ItemID model.ID `json:"item_id" validate:"required"`
}

// Ledger Commands
type ReceiveBatch struct {
	ItemID       model.ID        `json:"item_id" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	PurchaseDate *time.Time      `json:"purchase_date"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	BatchNumber  *string         `json:"batch_number" validate:"omitempty,max=64"`
	SupplierRef  *string         `json:"supplier_ref" validate:"omitempty,max=128"`
	PORef        *string         `json:"po_ref" validate:"omitempty,max=128"`
	Module       string          `json:"module" validate:"max=64"`
	Note         string          `json:"note" validate:"max=1000"`
	Actor        string          `json:"-"`
}

type BatchDeduct struct {
	Deductions []inventory.Deduction `json:"deductions"`
	Module     string                `json:"module" validate:"max=64"`
	Reference  string                `json:"reference" validate:"max=128"`
	SessionID  string                `json:"session_id" validate:"max=64"`
	Actor      string                `json:"-"`
}

// Reservation Commands
type Reserve struct {
	ItemID     model.ID        `json:"item_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
	Module     string          `json:"module" validate:"max=64"`
	Reference  string          `json:"reference" validate:"max=128"`
	TTLSeconds int             `json:"ttl_seconds" validate:"gte=0"`
	Actor      string          `json:"-"`
}

type ConfirmReservation struct {
	ReservationID model.ID `json:"reservation_id" validate:"required"`
	Actor         string   `json:"-"`
}

type CancelReservation struct {
	ReservationID model.ID `json:"reservation_id" validate:"required"`
}

// Adjustment Commands
type Adjust struct {
	ItemID   model.ID             `json:"-" validate:"required"`
	Kind     model.AdjustmentKind `json:"kind" validate:"max=32"`
	Value    decimal.Decimal      `json:"value"`
	Reason   string               `json:"reason" validate:"max=500"`
	UnitCost *decimal.Decimal     `json:"unit_cost"`
	Actor    string               `json:"-"`
}
