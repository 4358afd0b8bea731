package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/model"
)

// DeductContext tags the journal rows a deduction writes.
type DeductContext struct {
	Module    string
	Reference string
	SessionID string
	Actor     string
}

// DeductionResult describes one committed FIFO deduction.
type DeductionResult struct {
	ItemID           model.ID           `json:"item_id"`
	SKU              string             `json:"sku"`
	Quantity         decimal.Decimal    `json:"quantity"`
	WeightedUnitCost decimal.Decimal    `json:"weighted_unit_cost"`
	TotalCost        decimal.Decimal    `json:"total_cost"`
	Allocations      []model.Allocation `json:"allocations"`
	TransactionID    model.ID           `json:"transaction_id"`
	BalanceAfter     decimal.Decimal    `json:"balance_after"`
}

type ReceiveBatchInput struct {
	ItemID   model.ID
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
	// PurchaseDate defaults to now.
	PurchaseDate time.Time
	ExpiryDate   *time.Time
	BatchNumber  *string
	SupplierRef  *string
	PORef        *string
	// Module names the calling flow, e.g. "purchasing".
	Module string
	Note   string
	Actor  string
}

type ReceiveBatchResult struct {
	Batch       *model.Batch       `json:"batch"`
	Transaction *model.Transaction `json:"transaction"`
}

// ReceiveBatch books a new priced batch and journals it as an add.
func (s *Service) ReceiveBatch(ctx context.Context, in ReceiveBatchInput) (*ReceiveBatchResult, error) {
	if err := checkQuantity(in.Quantity); err != nil {
		return nil, err
	}
	if in.UnitCost.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCost, in.UnitCost)
	}
	if err := checkScale(in.UnitCost, ErrInvalidCost); err != nil {
		return nil, err
	}

	var res *ReceiveBatchResult
	err := s.execute(ctx, "receive_batch", func(ctx context.Context, u *unitOfWork) error {
		item, err := lockActiveItem(ctx, u.tx, in.ItemID)
		if err != nil {
			return err
		}

		purchased := in.PurchaseDate
		if purchased.IsZero() {
			purchased = u.now
		}
		batch := &model.Batch{
			ID:                s.ids.NextID(),
			ItemID:            item.ID,
			BatchNumber:       in.BatchNumber,
			QuantityReceived:  in.Quantity,
			RemainingQuantity: in.Quantity,
			UnitCost:          in.UnitCost,
			PurchaseDate:      purchased.UTC(),
			ExpiryDate:        in.ExpiryDate,
			SupplierRef:       in.SupplierRef,
			PORef:             in.PORef,
			Active:            true,
			CreatedAt:         u.now,
			UpdatedAt:         u.now,
		}
		if err := u.tx.InsertBatch(ctx, batch); err != nil {
			return err
		}
		if err := recomputeBalance(ctx, u.tx, item, u.now); err != nil {
			return err
		}

		tr := &model.Transaction{
			ItemID:       item.ID,
			BatchID:      &batch.ID,
			Type:         model.TransactionAdd,
			Quantity:     in.Quantity,
			BalanceAfter: item.CurrentQuantity,
			UnitCost:     in.UnitCost,
			TotalCost:    in.Quantity.Mul(in.UnitCost),
			Module:       optional(in.Module),
			Reference:    in.PORef,
			Note:         optional(in.Note),
			Actor:        in.Actor,
		}
		if err := s.recordTransaction(ctx, u, tr); err != nil {
			return err
		}

		u.emit(EventBatchReceived, item.ID, BatchReceived{
			BatchID:       batch.ID,
			TransactionID: tr.ID,
			Quantity:      batch.QuantityReceived,
			UnitCost:      batch.UnitCost,
			BalanceAfter:  item.CurrentQuantity,
			PORef:         batch.PORef,
		})
		res = &ReceiveBatchResult{Batch: batch, Transaction: tr}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("batch received",
		zap.Int64("item_id", in.ItemID.Int64()),
		zap.Int64("batch_id", res.Batch.ID.Int64()),
		zap.String("quantity", in.Quantity.String()))
	return res, nil
}

// ListActiveBatches returns the batches a deduction would draw from, in FIFO order.
func (s *Service) ListActiveBatches(ctx context.Context, itemID model.ID) ([]model.Batch, error) {
	var batches []model.Batch
	err := s.view(ctx, func(r store.Reader) error {
		if _, err := getItem(ctx, r, itemID); err != nil {
			return err
		}
		var err error
		batches, err = r.ActiveBatches(ctx, itemID)
		return err
	})
	return batches, err
}

// PlanAllocation computes the FIFO plan for quantity without committing it.
func (s *Service) PlanAllocation(ctx context.Context, itemID model.ID, quantity decimal.Decimal) (*Plan, error) {
	var plan *Plan
	err := s.view(ctx, func(r store.Reader) error {
		item, err := getItem(ctx, r, itemID)
		if err != nil {
			return err
		}
		if !item.Active {
			return fmt.Errorf("%w: %s", ErrItemInactive, item.SKU)
		}
		batches, err := r.ActiveBatches(ctx, itemID)
		if err != nil {
			return err
		}
		plan, err = Allocate(batches, quantity)
		return err
	})
	return plan, err
}

type DeductInput struct {
	ItemID   model.ID
	Quantity decimal.Decimal
	Note     string
	Context  DeductContext
}

// Deduct draws quantity from one item oldest batch first.
func (s *Service) Deduct(ctx context.Context, in DeductInput) (*DeductionResult, error) {
	if err := checkQuantity(in.Quantity); err != nil {
		return nil, err
	}

	var res *DeductionResult
	err := s.execute(ctx, "deduct", func(ctx context.Context, u *unitOfWork) error {
		item, err := lockActiveItem(ctx, u.tx, in.ItemID)
		if err != nil {
			return err
		}
		res, err = s.deductLocked(ctx, u, item, in.Quantity, in.Note, in.Context)
		return err
	})
	return res, err
}

// deductLocked plans and applies one FIFO deduction on an item whose row is
// already locked by the unit of work.
func (s *Service) deductLocked(ctx context.Context, u *unitOfWork, item *model.Item, qty decimal.Decimal, note string, dc DeductContext) (*DeductionResult, error) {
	batches, err := u.tx.LockBatches(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	plan, err := Allocate(batches, qty)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", item.SKU, err)
	}
	if err := applyPlan(ctx, u.tx, batches, plan, u.now); err != nil {
		return nil, err
	}
	if err := recomputeBalance(ctx, u.tx, item, u.now); err != nil {
		return nil, err
	}

	tr := &model.Transaction{
		ItemID:       item.ID,
		Type:         model.TransactionUse,
		Quantity:     qty.Neg(),
		BalanceAfter: item.CurrentQuantity,
		UnitCost:     plan.WeightedUnitCost,
		TotalCost:    plan.TotalCost,
		Module:       optional(dc.Module),
		Reference:    optional(dc.Reference),
		SessionID:    optional(dc.SessionID),
		Note:         optional(note),
		Allocations:  plan.Allocations,
		Actor:        dc.Actor,
	}
	if len(plan.Allocations) == 1 {
		tr.BatchID = &plan.Allocations[0].BatchID
	}
	if err := s.recordTransaction(ctx, u, tr); err != nil {
		return nil, err
	}

	u.emit(EventStockDeducted, item.ID, StockDeducted{
		TransactionID:    tr.ID,
		Quantity:         qty,
		WeightedUnitCost: plan.WeightedUnitCost,
		TotalCost:        plan.TotalCost,
		BalanceAfter:     item.CurrentQuantity,
		Allocations:      plan.Allocations,
		SessionID:        dc.SessionID,
		Module:           dc.Module,
		Reference:        dc.Reference,
		LowStock:         item.BelowReorder(),
	})

	return &DeductionResult{
		ItemID:           item.ID,
		SKU:              item.SKU,
		Quantity:         qty,
		WeightedUnitCost: plan.WeightedUnitCost,
		TotalCost:        plan.TotalCost,
		Allocations:      plan.Allocations,
		TransactionID:    tr.ID,
		BalanceAfter:     item.CurrentQuantity,
	}, nil
}
