package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/model"
)

type AdjustInput struct {
	ItemID model.ID
	Kind   model.AdjustmentKind
	// Value is the delta for increase and decrease, and the counted
	// balance for recount.
	Value  decimal.Decimal
	Reason string
	Actor  string
	// UnitCost prices the stock an increase creates. Required whenever the
	// adjustment ends up adding stock.
	UnitCost *decimal.Decimal
}

func (in *AdjustInput) validate() error {
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return ErrReasonRequired
	}
	switch in.Kind {
	case model.AdjustmentIncrease, model.AdjustmentDecrease:
		if !in.Value.IsPositive() {
			return fmt.Errorf("%w: %s", ErrInvalidQuantity, in.Value)
		}
	case model.AdjustmentRecount:
		if in.Value.IsNegative() {
			return fmt.Errorf("%w: counted %s", ErrInvalidQuantity, in.Value)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAdjustmentKind, in.Kind)
	}
	if err := checkScale(in.Value, ErrInvalidQuantity); err != nil {
		return err
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidCost, in.UnitCost)
	}
	if in.UnitCost != nil {
		if err := checkScale(*in.UnitCost, ErrInvalidCost); err != nil {
			return err
		}
	}
	if in.Kind == model.AdjustmentIncrease && in.UnitCost == nil {
		return fmt.Errorf("%w: unit cost is required for an increase", ErrInvalidCost)
	}
	return nil
}

type AdjustResult struct {
	Adjustment  *model.Adjustment  `json:"adjustment"`
	Transaction *model.Transaction `json:"transaction"`
	// Batch is the synthetic batch an increase created.
	Batch *model.Batch `json:"batch,omitempty"`
}

// Adjust applies a manual correction. Increases book a synthetic batch dated
// now, decreases draw down FIFO, and a recount dispatches to either by the
// sign of the difference. Every path writes one Adjustment and one
// adjustment journal row.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (*AdjustResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var res *AdjustResult
	err := s.execute(ctx, "adjust", func(ctx context.Context, u *unitOfWork) error {
		item, err := lockActiveItem(ctx, u.tx, in.ItemID)
		if err != nil {
			return err
		}
		previous := item.CurrentQuantity

		delta := in.Value
		switch in.Kind {
		case model.AdjustmentDecrease:
			delta = in.Value.Neg()
		case model.AdjustmentRecount:
			delta = in.Value.Sub(previous)
		}

		res = &AdjustResult{}
		tr := &model.Transaction{
			ItemID:    item.ID,
			Type:      model.TransactionAdjustment,
			Quantity:  delta,
			UnitCost:  decimal.Zero,
			TotalCost: decimal.Zero,
			Module:    optional("adjustment"),
			Note:      optional(in.Reason),
			Actor:     in.Actor,
		}

		switch {
		case delta.IsPositive():
			if in.UnitCost == nil {
				return fmt.Errorf("%w: unit cost is required when a recount adds stock", ErrInvalidCost)
			}
			batch := &model.Batch{
				ID:                s.ids.NextID(),
				ItemID:            item.ID,
				BatchNumber:       optional("ADJ-" + u.now.Format("20060102-150405")),
				QuantityReceived:  delta,
				RemainingQuantity: delta,
				UnitCost:          *in.UnitCost,
				PurchaseDate:      u.now,
				Active:            true,
				CreatedAt:         u.now,
				UpdatedAt:         u.now,
			}
			if err := u.tx.InsertBatch(ctx, batch); err != nil {
				return err
			}
			tr.BatchID = &batch.ID
			tr.UnitCost = batch.UnitCost
			tr.TotalCost = delta.Mul(batch.UnitCost)
			res.Batch = batch

		case delta.IsNegative():
			batches, err := u.tx.LockBatches(ctx, item.ID)
			if err != nil {
				return err
			}
			plan, err := Allocate(batches, delta.Neg())
			if err != nil {
				return fmt.Errorf("%s: %w", item.SKU, err)
			}
			if err := applyPlan(ctx, u.tx, batches, plan, u.now); err != nil {
				return err
			}
			tr.UnitCost = plan.WeightedUnitCost
			tr.TotalCost = plan.TotalCost
			tr.Allocations = plan.Allocations
			if len(plan.Allocations) == 1 {
				tr.BatchID = &plan.Allocations[0].BatchID
			}
		}

		if err := recomputeBalance(ctx, u.tx, item, u.now); err != nil {
			return err
		}
		tr.BalanceAfter = item.CurrentQuantity
		if err := s.recordTransaction(ctx, u, tr); err != nil {
			return err
		}

		adj := &model.Adjustment{
			ID:              s.ids.NextID(),
			ItemID:          item.ID,
			Kind:            in.Kind,
			Quantity:        delta,
			PreviousBalance: previous,
			NewBalance:      item.CurrentQuantity,
			Reason:          in.Reason,
			TransactionID:   tr.ID,
			Actor:           tr.Actor,
			CreatedAt:       u.now,
		}
		if res.Batch != nil {
			adj.BatchID = &res.Batch.ID
		}
		if err := u.tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}

		u.emit(EventStockAdjusted, item.ID, StockAdjusted{
			AdjustmentID:  adj.ID,
			TransactionID: tr.ID,
			Kind:          adj.Kind,
			Delta:         delta,
			BalanceAfter:  item.CurrentQuantity,
			Reason:        adj.Reason,
		})
		res.Adjustment = adj
		res.Transaction = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("stock adjusted",
		zap.Int64("item_id", in.ItemID.Int64()),
		zap.String("kind", string(in.Kind)),
		zap.String("delta", res.Adjustment.Quantity.String()),
		zap.String("actor", res.Adjustment.Actor))
	return res, nil
}

// ListAdjustments returns the corrections booked against an item, oldest first.
func (s *Service) ListAdjustments(ctx context.Context, itemID model.ID) ([]model.Adjustment, error) {
	var out []model.Adjustment
	err := s.view(ctx, func(r store.Reader) error {
		if _, err := getItem(ctx, r, itemID); err != nil {
			return err
		}
		var err error
		out, err = r.ListAdjustments(ctx, itemID)
		return err
	})
	return out, err
}
