package inventory

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/example/farm-ledger/internal/model"
)

// Plan is the outcome of a FIFO allocation. Applying it is up to the caller.
type Plan struct {
	Requested        decimal.Decimal    `json:"requested"`
	Allocations      []model.Allocation `json:"allocations"`
	WeightedUnitCost decimal.Decimal    `json:"weighted_unit_cost"`
	TotalCost        decimal.Decimal    `json:"total_cost"`
}

// Allocate picks batches oldest-first until requested is covered. Batches
// without stock are skipped; the input slice is not reordered.
func Allocate(batches []model.Batch, requested decimal.Decimal) (*Plan, error) {
	if err := checkQuantity(requested); err != nil {
		return nil, err
	}

	ordered := make([]*model.Batch, 0, len(batches))
	available := decimal.Zero
	for i := range batches {
		if batches[i].HasStock() {
			ordered = append(ordered, &batches[i])
			available = available.Add(batches[i].RemainingQuantity)
		}
	}
	if available.LessThan(requested) {
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientStock, requested, available)
	}
	slices.SortFunc(ordered, func(a, b *model.Batch) int {
		switch {
		case model.FIFOLess(a, b):
			return -1
		case model.FIFOLess(b, a):
			return 1
		}
		return 0
	})

	plan := &Plan{Requested: requested, TotalCost: decimal.Zero}
	needed := requested
	for _, b := range ordered {
		if !needed.IsPositive() {
			break
		}
		take := decimal.Min(b.RemainingQuantity, needed)
		alloc := model.Allocation{BatchID: b.ID, Quantity: take, UnitCost: b.UnitCost}
		plan.Allocations = append(plan.Allocations, alloc)
		plan.TotalCost = plan.TotalCost.Add(alloc.Cost())
		needed = needed.Sub(take)
	}
	plan.WeightedUnitCost = plan.TotalCost.DivRound(requested, model.CostScale)

	return plan, nil
}
