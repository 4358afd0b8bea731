package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/farm-ledger/internal/model"
)

const (
	EventItemCreated          = "ItemCreated"
	EventItemDeactivated      = "ItemDeactivated"
	EventBatchReceived        = "BatchReceived"
	EventStockDeducted        = "StockDeducted"
	EventStockAdjusted        = "StockAdjusted"
	EventReservationCreated   = "ReservationCreated"
	EventReservationConfirmed = "ReservationConfirmed"
	EventReservationCancelled = "ReservationCancelled"
	EventReservationExpired   = "ReservationExpired"
)

// Event is the envelope published after a unit of work commits. The item id
// is the partition key.
type Event struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	ItemID    model.ID  `json:"item_id"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Event) Type() string { return e.EventType }

type ItemCreated struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}

type ItemDeactivated struct {
	SKU string `json:"sku"`
}

type BatchReceived struct {
	BatchID       model.ID        `json:"batch_id"`
	TransactionID model.ID        `json:"transaction_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	PORef         *string         `json:"po_ref,omitempty"`
}

type StockDeducted struct {
	TransactionID    model.ID           `json:"transaction_id"`
	Quantity         decimal.Decimal    `json:"quantity"`
	WeightedUnitCost decimal.Decimal    `json:"weighted_unit_cost"`
	TotalCost        decimal.Decimal    `json:"total_cost"`
	BalanceAfter     decimal.Decimal    `json:"balance_after"`
	Allocations      []model.Allocation `json:"allocations"`
	SessionID        string             `json:"session_id,omitempty"`
	Module           string             `json:"module,omitempty"`
	Reference        string             `json:"reference,omitempty"`
	// LowStock is set when the deduction left the balance under the reorder threshold.
	LowStock bool `json:"low_stock"`
}

type StockAdjusted struct {
	AdjustmentID  model.ID             `json:"adjustment_id"`
	TransactionID model.ID             `json:"transaction_id"`
	Kind          model.AdjustmentKind `json:"kind"`
	Delta         decimal.Decimal      `json:"delta"`
	BalanceAfter  decimal.Decimal      `json:"balance_after"`
	Reason        string               `json:"reason"`
}

type ReservationChanged struct {
	ReservationID model.ID                `json:"reservation_id"`
	Status        model.ReservationStatus `json:"status"`
	Quantity      decimal.Decimal         `json:"quantity"`
	Module        string                  `json:"module"`
	Reference     string                  `json:"reference"`
	ExpiresAt     time.Time               `json:"expires_at"`
	TransactionID *model.ID               `json:"transaction_id,omitempty"`
}

func reservationChanged(r *model.Reservation) ReservationChanged {
	return ReservationChanged{
		ReservationID: r.ID,
		Status:        r.Status,
		Quantity:      r.Quantity,
		Module:        r.Module,
		Reference:     r.Reference,
		ExpiresAt:     r.ExpiresAt,
		TransactionID: r.TransactionID,
	}
}
