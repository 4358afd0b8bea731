package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/model"
)

// ItemRef names an item either by id or by SKU.
type ItemRef struct {
	id  model.ID
	sku string
}

func ByID(id model.ID) ItemRef {
	return ItemRef{id: id}
}

func BySKU(sku string) ItemRef {
	return ItemRef{sku: strings.TrimSpace(sku)}
}

func (r ItemRef) IsZero() bool {
	return r.id == 0 && r.sku == ""
}

func (r ItemRef) String() string {
	if r.sku != "" {
		return "sku:" + r.sku
	}
	return "id:" + r.id.String()
}

// itemRefJSON is the wire form: exactly one of item_id or sku.
type itemRefJSON struct {
	ItemID *model.ID `json:"item_id,omitempty"`
	SKU    string    `json:"sku,omitempty"`
}

func (r ItemRef) MarshalJSON() ([]byte, error) {
	if r.sku != "" {
		return json.Marshal(itemRefJSON{SKU: r.sku})
	}
	id := r.id
	return json.Marshal(itemRefJSON{ItemID: &id})
}

func (r *ItemRef) UnmarshalJSON(data []byte) error {
	var raw itemRefJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ref, err := NewItemRef(raw.ItemID, raw.SKU)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// NewItemRef builds a reference from optional wire fields.
func NewItemRef(id *model.ID, sku string) (ItemRef, error) {
	sku = strings.TrimSpace(sku)
	switch {
	case id != nil && sku != "":
		return ItemRef{}, fmt.Errorf("%w: got both", ErrInvalidItemRef)
	case id != nil:
		return ByID(*id), nil
	case sku != "":
		return BySKU(sku), nil
	}
	return ItemRef{}, fmt.Errorf("%w: got neither", ErrInvalidItemRef)
}

func resolveItem(ctx context.Context, r store.Reader, ref ItemRef) (*model.Item, error) {
	if ref.IsZero() {
		return nil, ErrInvalidItemRef
	}
	var (
		item *model.Item
		err  error
	)
	if ref.sku != "" {
		item, err = r.GetItemBySKU(ctx, ref.sku)
	} else {
		item, err = r.GetItem(ctx, ref.id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, ref)
	}
	return item, err
}

// Deduction is one line of a multi-item deduction.
type Deduction struct {
	Item     ItemRef         `json:"item"`
	Quantity decimal.Decimal `json:"quantity"`
	Note     string          `json:"note,omitempty"`
}

type BatchDeductInput struct {
	Deductions []Deduction
	// Context.SessionID is generated when empty.
	Context DeductContext
}

type BatchDeductResult struct {
	SessionID string            `json:"session_id"`
	Items     []DeductionResult `json:"items"`
	TotalCost decimal.Decimal   `json:"total_cost"`
}

// BatchDeduct applies every deduction in one unit of work. Either all of
// them commit or none do.
func (s *Service) BatchDeduct(ctx context.Context, in BatchDeductInput) (*BatchDeductResult, error) {
	if len(in.Deductions) == 0 {
		return nil, ErrNoItems
	}
	if len(in.Deductions) > s.maxBatchItems {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyItems, len(in.Deductions), s.maxBatchItems)
	}
	for i, d := range in.Deductions {
		if d.Item.IsZero() {
			return nil, fmt.Errorf("deduction %d: %w", i, ErrInvalidItemRef)
		}
		if err := checkQuantity(d.Quantity); err != nil {
			return nil, fmt.Errorf("deduction %d: %w", i, err)
		}
	}

	dc := in.Context
	if dc.SessionID == "" {
		dc.SessionID = uuid.New().String()
	}

	var res *BatchDeductResult
	err := s.execute(ctx, "batch_deduct", func(ctx context.Context, u *unitOfWork) error {
		// Resolve every ref first, then lock the distinct items in ascending
		// id order so concurrent calls always queue in the same order.
		ids := make([]model.ID, len(in.Deductions))
		for i, d := range in.Deductions {
			item, err := resolveItem(ctx, u.tx, d.Item)
			if err != nil {
				return fmt.Errorf("deduction %d: %w", i, err)
			}
			ids[i] = item.ID
		}

		order := slices.Clone(ids)
		slices.Sort(order)
		order = slices.Compact(order)

		locked := make(map[model.ID]*model.Item, len(order))
		for _, id := range order {
			item, err := lockActiveItem(ctx, u.tx, id)
			if err != nil {
				return err
			}
			locked[id] = item
		}

		res = &BatchDeductResult{SessionID: dc.SessionID, TotalCost: decimal.Zero}
		for i, d := range in.Deductions {
			r, err := s.deductLocked(ctx, u, locked[ids[i]], d.Quantity, d.Note, dc)
			if err != nil {
				return fmt.Errorf("deduction %d: %w", i, err)
			}
			res.Items = append(res.Items, *r)
			res.TotalCost = res.TotalCost.Add(r.TotalCost)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("batch deduction rolled back",
			zap.String("session_id", dc.SessionID),
			zap.Int("items", len(in.Deductions)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("batch deduction committed",
		zap.String("session_id", dc.SessionID),
		zap.String("module", dc.Module),
		zap.Int("items", len(res.Items)),
		zap.String("total_cost", res.TotalCost.String()))
	return res, nil
}
