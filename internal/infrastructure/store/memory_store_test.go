package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/farm-ledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func seedItem(t *testing.T, s *MemoryStore, id model.ID, sku string) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.InsertItem(context.Background(), &model.Item{
			ID: id, SKU: sku, Name: sku, Unit: "kg", Active: true,
			ReorderThreshold: decimal.NewFromInt(10),
			CreatedAt:        t0, UpdatedAt: t0,
		})
	})
	require.NoError(t, err)
}

func newBatch(id, itemID model.ID, qty int64, purchased time.Time) *model.Batch {
	return &model.Batch{
		ID: id, ItemID: itemID,
		QuantityReceived:  decimal.NewFromInt(qty),
		RemainingQuantity: decimal.NewFromInt(qty),
		UnitCost:          decimal.NewFromInt(2),
		PurchaseDate:      purchased,
		Active:            true,
		CreatedAt:         t0, UpdatedAt: t0,
	}
}

// ============================================
// Unit of work
// ============================================

func TestMemoryStore_WithTx_RollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	seedItem(t, s, 1, "FEED-01")
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertBatch(ctx, newBatch(10, 1, 5, t0)))
		require.NoError(t, tx.InsertTransaction(ctx, &model.Transaction{ID: 11, ItemID: 1, Type: model.TransactionAdd}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.View(ctx, func(r Reader) error {
		batches, err := r.ActiveBatches(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, batches)

		txs, err := r.ListTransactions(ctx, model.TransactionFilter{})
		require.NoError(t, err)
		assert.Empty(t, txs)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_WithTx_CancelledContextDiscards(t *testing.T) {
	s := NewMemoryStore()
	seedItem(t, s, 1, "FEED-01")

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertBatch(ctx, newBatch(10, 1, 5, t0)))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	err = s.View(context.Background(), func(r Reader) error {
		total, err := r.SumActiveRemaining(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, total.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_FailWithConflict(t *testing.T) {
	s := NewMemoryStore()
	s.FailWithConflict(1)

	calls := 0
	err := s.WithTx(context.Background(), func(tx Tx) error { calls++; return nil })
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, calls)

	err = s.WithTx(context.Background(), func(tx Tx) error { calls++; return nil })
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// ============================================
// Reads
// ============================================

func TestMemoryStore_ActiveBatches_FIFOOrder(t *testing.T) {
	s := NewMemoryStore()
	seedItem(t, s, 1, "SEED-02")
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertBatch(ctx, newBatch(30, 1, 5, t0.Add(48*time.Hour))))
		require.NoError(t, tx.InsertBatch(ctx, newBatch(21, 1, 5, t0)))
		require.NoError(t, tx.InsertBatch(ctx, newBatch(20, 1, 5, t0)))
		empty := newBatch(5, 1, 5, t0.Add(-time.Hour))
		empty.RemainingQuantity = decimal.Zero
		return tx.InsertBatch(ctx, empty)
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r Reader) error {
		batches, err := r.ActiveBatches(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batches, 3)
		assert.Equal(t, model.ID(20), batches[0].ID)
		assert.Equal(t, model.ID(21), batches[1].ID)
		assert.Equal(t, model.ID(30), batches[2].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_DuplicateSKU(t *testing.T) {
	s := NewMemoryStore()
	seedItem(t, s, 1, "FERT-01")

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.InsertItem(context.Background(), &model.Item{ID: 2, SKU: "fert-01"})
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryStore_UpdateBatchRemaining_Bounds(t *testing.T) {
	s := NewMemoryStore()
	seedItem(t, s, 1, "FEED-01")
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertBatch(ctx, newBatch(10, 1, 5, t0)))
		assert.Error(t, tx.UpdateBatchRemaining(ctx, 10, decimal.NewFromInt(6), t0))
		assert.Error(t, tx.UpdateBatchRemaining(ctx, 10, decimal.NewFromInt(-1), t0))
		assert.ErrorIs(t, tx.UpdateBatchRemaining(ctx, 99, decimal.Zero, t0), ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_Reservations(t *testing.T) {
	s := NewMemoryStore()
	seedItem(t, s, 1, "FEED-01")
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		for _, r := range []model.Reservation{
			{ID: 1, ItemID: 1, Quantity: decimal.NewFromInt(3), Status: model.ReservationPending, ExpiresAt: t0.Add(time.Hour)},
			{ID: 2, ItemID: 1, Quantity: decimal.NewFromInt(4), Status: model.ReservationPending, ExpiresAt: t0.Add(-time.Minute)},
			{ID: 3, ItemID: 1, Quantity: decimal.NewFromInt(5), Status: model.ReservationConfirmed, ExpiresAt: t0.Add(time.Hour)},
		} {
			res := r
			require.NoError(t, tx.InsertReservation(ctx, &res))
		}
		return nil
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r Reader) error {
		held, err := r.SumHoldingReservations(ctx, 1, t0)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(3).Equal(held), "got %s", held)

		n, err := r.CountPendingReservations(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		expired, err := r.ListExpiredReservations(ctx, t0, 10)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, model.ID(2), expired[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_ListTransactions_NewestFirstPaged(t *testing.T) {
	s := NewMemoryStore()
	seedItem(t, s, 1, "FEED-01")
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		for i := 1; i <= 5; i++ {
			require.NoError(t, tx.InsertTransaction(ctx, &model.Transaction{
				ID: model.ID(i), ItemID: 1, Type: model.TransactionAdd,
				CreatedAt: t0.Add(time.Duration(i) * time.Minute),
			}))
		}
		return nil
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r Reader) error {
		page, err := r.ListTransactions(ctx, model.TransactionFilter{Page: 2, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, model.ID(3), page[0].ID)
		assert.Equal(t, model.ID(2), page[1].ID)

		past, err := r.ListTransactions(ctx, model.TransactionFilter{Page: 9, PageSize: 2})
		require.NoError(t, err)
		assert.Empty(t, past)
		return nil
	})
	require.NoError(t, err)
}
