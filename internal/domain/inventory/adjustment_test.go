package inventory

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/farm-ledger/internal/model"
)

func cost(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// ============================================
// Increase / decrease
// ============================================

func TestService_Adjust_IncreaseBooksSyntheticBatch(t *testing.T) {
	env := newTestInventoryService(t)
	item := env.createItem(t, "FEED-3MM")
	env.receive(t, item.ID, "10", "5", day1)

	res, err := env.svc.Adjust(context.Background(), AdjustInput{
		ItemID:   item.ID,
		Kind:     model.AdjustmentIncrease,
		Value:    d("5"),
		Reason:   "  found behind the shed  ",
		Actor:    "keeper",
		UnitCost: cost("6"),
	})

	require.NoError(t, err)
	require.NotNil(t, res.Batch)
	assert.True(t, strings.HasPrefix(*res.Batch.BatchNumber, "ADJ-"))
	assert.Equal(t, env.clock.Now(), res.Batch.PurchaseDate)
	assert.True(t, d("5").Equal(res.Batch.RemainingQuantity))

	assert.Equal(t, model.TransactionAdjustment, res.Transaction.Type)
	assert.True(t, d("5").Equal(res.Transaction.Quantity))
	assert.True(t, d("30").Equal(res.Transaction.TotalCost))
	assert.Equal(t, &res.Batch.ID, res.Transaction.BatchID)
	assert.Equal(t, "found behind the shed", *res.Transaction.Note)

	assert.Equal(t, "found behind the shed", res.Adjustment.Reason)
	assert.True(t, d("10").Equal(res.Adjustment.PreviousBalance))
	assert.True(t, d("15").Equal(res.Adjustment.NewBalance))
	assert.Equal(t, res.Transaction.ID, res.Adjustment.TransactionID)
	assert.Equal(t, "keeper", res.Adjustment.Actor)

	assert.True(t, d("15").Equal(env.item(t, item.ID).CurrentQuantity))
	env.assertConserved(t, item.ID)
	assert.Contains(t, env.eventTypes(), EventStockAdjusted)
}

func TestService_Adjust_IncreaseNeedsCost(t *testing.T) {
	env := newTestInventoryService(t)
	item := env.createItem(t, "FEED-3MM")

	_, err := env.svc.Adjust(context.Background(), AdjustInput{
		ItemID: item.ID, Kind: model.AdjustmentIncrease, Value: d("5"), Reason: "found",
	})

	assert.ErrorIs(t, err, ErrInvalidCost)
	assert.True(t, env.item(t, item.ID).CurrentQuantity.IsZero())
}

func TestService_Adjust_DecreaseDrawsFIFO(t *testing.T) {
	env := newTestInventoryService(t)
	item := env.createItem(t, "FEED-3MM")
	b1 := env.receive(t, item.ID, "10", "5", day1)
	b2 := env.receive(t, item.ID, "10", "7", day2)

	res, err := env.svc.Adjust(context.Background(), AdjustInput{
		ItemID: item.ID, Kind: model.AdjustmentDecrease, Value: d("12"), Reason: "rats",
	})

	require.NoError(t, err)
	assert.Nil(t, res.Batch)
	assert.True(t, d("-12").Equal(res.Transaction.Quantity))
	// 10@5 + 2@7
	assert.True(t, d("64").Equal(res.Transaction.TotalCost))
	assert.Len(t, res.Transaction.Allocations, 2)
	assert.Nil(t, res.Transaction.BatchID)
	assert.True(t, d("8").Equal(res.Adjustment.NewBalance))

	assert.True(t, env.batch(t, item.ID, b1.ID).RemainingQuantity.IsZero())
	assert.True(t, d("8").Equal(env.batch(t, item.ID, b2.ID).RemainingQuantity))
	env.assertConserved(t, item.ID)
}

func TestService_Adjust_DecreaseInsufficient(t *testing.T) {
	env := newTestInventoryService(t)
	item := env.createItem(t, "FEED-3MM")
	env.receive(t, item.ID, "3", "5", day1)

	_, err := env.svc.Adjust(context.Background(), AdjustInput{
		ItemID: item.ID, Kind: model.AdjustmentDecrease, Value: d("4"), Reason: "spoiled",
	})

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.True(t, d("3").Equal(env.item(t, item.ID).CurrentQuantity))

	adjustments, err := env.svc.ListAdjustments(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Empty(t, adjustments)
}

// ============================================
// Recount
// ============================================

func TestService_Adjust_RecountUnchangedWritesZeroDelta(t *testing.T) {
	env := newTestInventoryService(t)
	item := env.createItem(t, "FEED-3MM")
	b := env.receive(t, item.ID, "40", "2", day1)

	res, err := env.svc.Adjust(context.Background(), AdjustInput{
		ItemID: item.ID, Kind: model.AdjustmentRecount, Value: d("40"), Reason: "monthly count",
	})

	require.NoError(t, err)
	assert.True(t, res.Adjustment.Quantity.IsZero())
	assert.True(t, res.Transaction.Quantity.IsZero())
	assert.True(t, res.Transaction.TotalCost.IsZero())
	assert.Nil(t, res.Transaction.BatchID)
	assert.True(t, d("40").Equal(env.batch(t, item.ID, b.ID).RemainingQuantity))

	adjustments, err := env.svc.ListAdjustments(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.Equal(t, model.AdjustmentRecount, adjustments[0].Kind)
}

func TestService_Adjust_RecountUp(t *testing.T) {
	env := newTestInventoryService(t)
	item := env.createItem(t, "FEED-3MM")
	env.receive(t, item.ID, "40", "2", day1)

	_, err := env.svc.Adjust(context.Background(), AdjustInput{
		ItemID: item.ID, Kind: model.AdjustmentRecount, Value: d("45"), Reason: "count",
	})
	require.ErrorIs(t, err, ErrInvalidCost)

	res, err := env.svc.Adjust(context.Background(), AdjustInput{
		ItemID: item.ID, Kind: model.AdjustmentRecount, Value: d("45"), Reason: "count", UnitCost: cost("2.2"),
	})

	require.NoError(t, err)
	assert.True(t, d("5").Equal(res.Adjustment.Quantity))
	require.NotNil(t, res.Batch)
	assert.True(t, d("11").Equal(res.Transaction.TotalCost))
	assert.True(t, d("45").Equal(env.item(t, item.ID).CurrentQuantity))
	env.assertConserved(t, item.ID)
}

func TestService_Adjust_RecountDown(t *testing.T) {
	env := newTestInventoryService(t)
	item := env.createItem(t, "FEED-3MM")
	env.receive(t, item.ID, "40", "2", day1)

	res, err := env.svc.Adjust(context.Background(), AdjustInput{
		ItemID: item.ID, Kind: model.AdjustmentRecount, Value: d("0"), Reason: "silo empty",
	})

	require.NoError(t, err)
	assert.True(t, d("-40").Equal(res.Adjustment.Quantity))
	assert.True(t, d("40").Equal(res.Adjustment.PreviousBalance))
	assert.True(t, res.Adjustment.NewBalance.IsZero())
	assert.True(t, d("80").Equal(res.Transaction.TotalCost))
	env.assertConserved(t, item.ID)
}

func TestService_Adjust_Validation(t *testing.T) {
	env := newTestInventoryService(t)
	item := env.createItem(t, "FEED-3MM")
	env.receive(t, item.ID, "10", "1", day1)

	tests := []struct {
		name string
		in   AdjustInput
		want error
	}{
		{"blank reason", AdjustInput{Kind: model.AdjustmentDecrease, Value: d("1"), Reason: "   "}, ErrReasonRequired},
		{"unknown kind", AdjustInput{Kind: "shrink", Value: d("1"), Reason: "r"}, ErrInvalidAdjustmentKind},
		{"zero decrease", AdjustInput{Kind: model.AdjustmentDecrease, Value: d("0"), Reason: "r"}, ErrInvalidQuantity},
		{"negative recount", AdjustInput{Kind: model.AdjustmentRecount, Value: d("-1"), Reason: "r"}, ErrInvalidQuantity},
		{"negative cost", AdjustInput{Kind: model.AdjustmentIncrease, Value: d("1"), Reason: "r", UnitCost: cost("-1")}, ErrInvalidCost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.ItemID = item.ID
			_, err := env.svc.Adjust(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.True(t, d("10").Equal(env.item(t, item.ID).CurrentQuantity))

	_, err := env.svc.Adjust(context.Background(), AdjustInput{
		ItemID: 999, Kind: model.AdjustmentDecrease, Value: d("1"), Reason: "r",
	})
	assert.ErrorIs(t, err, ErrItemNotFound)
}
