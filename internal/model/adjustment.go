package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AdjustmentKind string

const (
	AdjustmentIncrease AdjustmentKind = "increase"
	AdjustmentDecrease AdjustmentKind = "decrease"
	AdjustmentRecount  AdjustmentKind = "recount"
)

type Adjustment struct {
	ID              ID              `db:"id" json:"id"`
	ItemID          ID              `db:"item_id" json:"item_id"`
	Kind            AdjustmentKind  `db:"kind" json:"kind"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"` // signed delta
	PreviousBalance decimal.Decimal `db:"previous_balance" json:"previous_balance"`
	NewBalance      decimal.Decimal `db:"new_balance" json:"new_balance"`
	Reason          string          `db:"reason" json:"reason"`
	TransactionID   ID              `db:"transaction_id" json:"transaction_id"`
	BatchID         *ID             `db:"batch_id" json:"batch_id,omitempty"`
	Actor           string          `db:"actor" json:"actor"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
