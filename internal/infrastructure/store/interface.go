package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/farm-ledger/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	ErrConflict  = errors.New("write conflict")
)

// Store runs units of work against the ledger tables.
type Store interface {
	// WithTx runs fn inside one transaction. If fn returns an error, or the
	// commit fails, none of the writes made through tx are kept.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against committed state without taking write locks.
	View(ctx context.Context, fn func(r Reader) error) error
}

// ItemFilter narrows catalog listings. Page is 1-based; PageSize <= 0 means no paging.
type ItemFilter struct {
	ActiveOnly   bool
	BelowReorder bool
	Page         int
	PageSize     int
}

// Reader is the read side shared by View and Tx.
type Reader interface {
	GetItem(ctx context.Context, id model.ID) (*model.Item, error)
	GetItemBySKU(ctx context.Context, sku string) (*model.Item, error)
	ListItems(ctx context.Context, f ItemFilter) ([]model.Item, error)

	// ActiveBatches returns active batches with remaining stock in FIFO order.
	ActiveBatches(ctx context.Context, itemID model.ID) ([]model.Batch, error)
	ExpiringBatches(ctx context.Context, before time.Time) ([]model.Batch, error)
	SumActiveRemaining(ctx context.Context, itemID model.ID) (decimal.Decimal, error)

	// ListTransactions returns journal rows newest first.
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error)

	GetReservation(ctx context.Context, id model.ID) (*model.Reservation, error)
	// SumHoldingReservations sums pending reservations that have not expired at now.
	SumHoldingReservations(ctx context.Context, itemID model.ID, now time.Time) (decimal.Decimal, error)
	CountPendingReservations(ctx context.Context, itemID model.ID) (int, error)
	// ListExpiredReservations returns pending reservations with expires_at <= now, oldest first.
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)

	ListAdjustments(ctx context.Context, itemID model.ID) ([]model.Adjustment, error)
}

// Tx is a unit of work. Lock* methods hold row locks until the unit of work ends.
type Tx interface {
	Reader

	LockItem(ctx context.Context, id model.ID) (*model.Item, error)
	// LockBatches is ActiveBatches with a row lock on every returned batch.
	LockBatches(ctx context.Context, itemID model.ID) ([]model.Batch, error)
	LockReservation(ctx context.Context, id model.ID) (*model.Reservation, error)

	InsertItem(ctx context.Context, item *model.Item) error
	UpdateItem(ctx context.Context, item *model.Item) error
	InsertBatch(ctx context.Context, batch *model.Batch) error
	UpdateBatchRemaining(ctx context.Context, id model.ID, remaining decimal.Decimal, at time.Time) error
	InsertTransaction(ctx context.Context, t *model.Transaction) error
	InsertReservation(ctx context.Context, r *model.Reservation) error
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	InsertAdjustment(ctx context.Context, a *model.Adjustment) error
}
