package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/model"
)

type CreateItemInput struct {
	SKU                string
	Name               string
	Unit               string
	Category           string
	ReorderThreshold   decimal.Decimal
	MinStock           decimal.Decimal
	DefaultSupplierRef *string
}

func (in *CreateItemInput) validate() error {
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	in.Unit = strings.TrimSpace(in.Unit)
	switch {
	case in.SKU == "":
		return fmt.Errorf("%w: sku is required", ErrInvalidItem)
	case in.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	case in.Unit == "":
		return fmt.Errorf("%w: unit is required", ErrInvalidItem)
	case in.ReorderThreshold.IsNegative():
		return fmt.Errorf("%w: reorder threshold %s", ErrInvalidQuantity, in.ReorderThreshold)
	case in.MinStock.IsNegative():
		return fmt.Errorf("%w: min stock %s", ErrInvalidQuantity, in.MinStock)
	}
	if err := checkScale(in.ReorderThreshold, ErrInvalidQuantity); err != nil {
		return err
	}
	return checkScale(in.MinStock, ErrInvalidQuantity)
}

// CreateItem registers a new SKU with a zero balance.
func (s *Service) CreateItem(ctx context.Context, in CreateItemInput) (*model.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var item *model.Item
	err := s.execute(ctx, "create_item", func(ctx context.Context, u *unitOfWork) error {
		if _, err := u.tx.GetItemBySKU(ctx, in.SKU); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateSKU, in.SKU)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		item = &model.Item{
			ID:                 s.ids.NextID(),
			SKU:                in.SKU,
			Name:               in.Name,
			Category:           in.Category,
			Unit:               in.Unit,
			DefaultSupplierRef: in.DefaultSupplierRef,
			ReorderThreshold:   in.ReorderThreshold,
			MinStock:           in.MinStock,
			CurrentQuantity:    decimal.Zero,
			Active:             true,
			CreatedAt:          u.now,
			UpdatedAt:          u.now,
		}
		if err := u.tx.InsertItem(ctx, item); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%w: %s", ErrDuplicateSKU, in.SKU)
			}
			return err
		}

		u.emit(EventItemCreated, item.ID, ItemCreated{SKU: item.SKU, Name: item.Name, Unit: item.Unit})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item created", zap.Int64("item_id", item.ID.Int64()), zap.String("sku", item.SKU))
	return item, nil
}

// DeactivateItem soft-deletes an item. Deactivating an inactive item is a no-op.
func (s *Service) DeactivateItem(ctx context.Context, id model.ID) (*model.Item, error) {
	var item *model.Item
	err := s.execute(ctx, "deactivate_item", func(ctx context.Context, u *unitOfWork) error {
		var err error
		item, err = u.tx.LockItem(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		if err != nil {
			return err
		}
		if !item.Active {
			return nil
		}

		open, err := u.tx.CountPendingReservations(ctx, id)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: %d pending on %s", ErrItemHasOpenReservations, open, item.SKU)
		}

		item.Active = false
		item.UpdatedAt = u.now
		if err := u.tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		u.emit(EventItemDeactivated, item.ID, ItemDeactivated{SKU: item.SKU})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RecomputeBalance re-derives and stores the item balance. It is idempotent
// and writes no journal row.
func (s *Service) RecomputeBalance(ctx context.Context, id model.ID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.execute(ctx, "recompute_balance", func(ctx context.Context, u *unitOfWork) error {
		item, err := u.tx.LockItem(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		if err != nil {
			return err
		}
		before := item.CurrentQuantity
		if err := recomputeBalance(ctx, u.tx, item, u.now); err != nil {
			return err
		}
		if !before.Equal(item.CurrentQuantity) {
			s.logger.Warn("balance drift corrected",
				zap.Int64("item_id", id.Int64()),
				zap.String("stored", before.String()),
				zap.String("derived", item.CurrentQuantity.String()))
		}
		balance = item.CurrentQuantity
		return nil
	})
	return balance, err
}

// GetItem resolves ref to an item, active or not.
func (s *Service) GetItem(ctx context.Context, ref ItemRef) (*model.Item, error) {
	var item *model.Item
	err := s.view(ctx, func(r store.Reader) error {
		var err error
		item, err = resolveItem(ctx, r, ref)
		return err
	})
	return item, err
}

// ItemPolicyUpdate changes catalog attributes. Nil fields are left alone.
type ItemPolicyUpdate struct {
	Name               *string
	Category           *string
	ReorderThreshold   *decimal.Decimal
	MinStock           *decimal.Decimal
	DefaultSupplierRef *string
}

func (s *Service) UpdateItemPolicy(ctx context.Context, id model.ID, upd ItemPolicyUpdate) (*model.Item, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if upd.ReorderThreshold != nil && upd.ReorderThreshold.IsNegative() {
		return nil, fmt.Errorf("%w: reorder threshold %s", ErrInvalidQuantity, upd.ReorderThreshold)
	}
	if upd.MinStock != nil && upd.MinStock.IsNegative() {
		return nil, fmt.Errorf("%w: min stock %s", ErrInvalidQuantity, upd.MinStock)
	}
	for _, v := range []*decimal.Decimal{upd.ReorderThreshold, upd.MinStock} {
		if v == nil {
			continue
		}
		if err := checkScale(*v, ErrInvalidQuantity); err != nil {
			return nil, err
		}
	}

	var item *model.Item
	err := s.execute(ctx, "update_item_policy", func(ctx context.Context, u *unitOfWork) error {
		var err error
		item, err = u.tx.LockItem(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		if err != nil {
			return err
		}

		if upd.Name != nil {
			item.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Category != nil {
			item.Category = *upd.Category
		}
		if upd.ReorderThreshold != nil {
			item.ReorderThreshold = *upd.ReorderThreshold
		}
		if upd.MinStock != nil {
			item.MinStock = *upd.MinStock
		}
		if upd.DefaultSupplierRef != nil {
			item.DefaultSupplierRef = optional(*upd.DefaultSupplierRef)
		}
		item.UpdatedAt = u.now
		return u.tx.UpdateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) ListItems(ctx context.Context, f store.ItemFilter) ([]model.Item, error) {
	var items []model.Item
	err := s.view(ctx, func(r store.Reader) error {
		var err error
		items, err = r.ListItems(ctx, f)
		return err
	})
	return items, err
}
