package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionAdd        TransactionType = "add"
	TransactionUse        TransactionType = "use"
	TransactionAdjustment TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionAdd, TransactionUse, TransactionAdjustment:
		return true
	}
	return false
}

// Allocation is the quantity taken from one batch.
type Allocation struct {
	BatchID  ID              `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Cost returns Quantity x UnitCost.
func (a Allocation) Cost() decimal.Decimal {
	return a.Quantity.Mul(a.UnitCost)
}

// Allocations is stored as a JSON column.
type Allocations []Allocation

func (a Allocations) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Allocations) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot convert %T to Allocations", value)
	}
}

// Transaction is one immutable journal row.
type Transaction struct {
	ID           ID              `db:"id" json:"id"`
	ItemID       ID              `db:"item_id" json:"item_id"`
	BatchID      *ID             `db:"batch_id" json:"batch_id,omitempty"`
	Type         TransactionType `db:"type" json:"type"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"` // signed delta
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	TotalCost    decimal.Decimal `db:"total_cost" json:"total_cost"`
	Module       *string         `db:"module" json:"module,omitempty"`
	Reference    *string         `db:"reference" json:"reference,omitempty"`
	SessionID    *string         `db:"session_id" json:"session_id,omitempty"`
	Note         *string         `db:"note" json:"note,omitempty"`
	Allocations  Allocations     `db:"allocations" json:"allocations,omitempty"`
	Actor        string          `db:"actor" json:"actor"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// TransactionFilter narrows history queries. Zero values mean "any".
type TransactionFilter struct {
	ItemID *ID
	Type   TransactionType
	From   *time.Time
	To     *time.Time
	// Before restricts to rows strictly older than the cursor.
	Before *Cursor
	// Page is 1-based; PageSize <= 0 returns everything.
	Page     int
	PageSize int
}

func (f TransactionFilter) Matches(t *Transaction) bool {
	if f.ItemID != nil && t.ItemID != *f.ItemID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.From != nil && t.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !t.CreatedAt.Before(*f.To) {
		return false
	}
	if f.Before != nil && !f.Before.After(t) {
		return false
	}
	return true
}

// Cursor is a position in the newest-first journal order.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        ID        `json:"id"`
}

// CursorOf returns the position of t.
func CursorOf(t *Transaction) *Cursor {
	return &Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
}

// After reports whether c comes after t in newest-first order, i.e. t is older.
func (c *Cursor) After(t *Transaction) bool {
	if !t.CreatedAt.Equal(c.CreatedAt) {
		return t.CreatedAt.Before(c.CreatedAt)
	}
	return t.ID < c.ID
}
