package query

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/farm-ledger/internal/model"
)

// LowStockReadModel is one row of the low-stock view.
type LowStockReadModel struct {
	ItemID           model.ID        `json:"item_id"`
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	Unit             string          `json:"unit"`
	CurrentQuantity  decimal.Decimal `json:"current_quantity"`
	ReorderThreshold decimal.Decimal `json:"reorder_threshold"`
	Shortfall        decimal.Decimal `json:"shortfall"`
}

// ExpiringBatchReadModel is one row of the expiry view.
type ExpiringBatchReadModel struct {
	BatchID           model.ID        `json:"batch_id"`
	ItemID            model.ID        `json:"item_id"`
	BatchNumber       *string         `json:"batch_number,omitempty"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	Value             decimal.Decimal `json:"value"`
	ExpiryDate        time.Time       `json:"expiry_date"`
	DaysLeft          int             `json:"days_left"`
}

func lowStockRow(item *model.Item) LowStockReadModel {
	return LowStockReadModel{
		ItemID:           item.ID,
		SKU:              item.SKU,
		Name:             item.Name,
		Category:         item.Category,
		Unit:             item.Unit,
		CurrentQuantity:  item.CurrentQuantity,
		ReorderThreshold: item.ReorderThreshold,
		Shortfall:        item.ReorderThreshold.Sub(item.CurrentQuantity),
	}
}

func expiringRow(b *model.Batch, now time.Time) ExpiringBatchReadModel {
	return ExpiringBatchReadModel{
		BatchID:           b.ID,
		ItemID:            b.ItemID,
		BatchNumber:       b.BatchNumber,
		RemainingQuantity: b.RemainingQuantity,
		UnitCost:          b.UnitCost,
		Value:             b.Value(),
		ExpiryDate:        *b.ExpiryDate,
		DaysLeft:          int(b.ExpiryDate.Sub(now).Hours() / 24),
	}
}
