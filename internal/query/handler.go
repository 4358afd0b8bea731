package query

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/domain/inventory"
	"github.com/example/farm-ledger/internal/infrastructure/cache"
	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/model"
)

const day = 24 * time.Hour

// Handler is the read side. The low-stock and expiry views are served from
// the view cache; everything else reads the store directly.
type Handler struct {
	svc    *inventory.Service
	views  cache.ViewCache
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewHandler(svc *inventory.Service, views cache.ViewCache, ttl time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, views: views, ttl: ttl, now: time.Now, logger: logger}
}

// cached loads key from the view cache, or computes and stores it. Cache
// errors fall through to load. The view is stored in the generation the
// lookup saw, so one computed across an invalidation is discarded.
func cached[T any](ctx context.Context, h *Handler, key string, load func() (T, error)) (T, error) {
	var out T
	if h.views == nil || h.ttl <= 0 {
		return load()
	}

	gen, hit, err := h.views.Get(ctx, key, &out)
	if err != nil {
		h.logger.Warn("view cache read failed", zap.String("key", key), zap.Error(err))
		return load()
	}
	if hit {
		return out, nil
	}

	out, err = load()
	if err != nil {
		return out, err
	}
	if err := h.views.Set(ctx, gen, key, out, h.ttl); err != nil {
		h.logger.Warn("view cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

// ============================================
// Views
// ============================================

func (h *Handler) LowStock(ctx context.Context) ([]LowStockReadModel, error) {
	return cached(ctx, h, cache.KeyLowStock, func() ([]LowStockReadModel, error) {
		items, err := h.svc.LowStock(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]LowStockReadModel, 0, len(items))
		for i := range items {
			rows = append(rows, lowStockRow(&items[i]))
		}
		return rows, nil
	})
}

// ExpiringBatches lists batches expiring within days, soonest first.
func (h *Handler) ExpiringBatches(ctx context.Context, days int) ([]ExpiringBatchReadModel, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: within_days %d", inventory.ErrInvalidFilter, days)
	}
	return cached(ctx, h, cache.ExpiringKey(days), func() ([]ExpiringBatchReadModel, error) {
		batches, err := h.svc.ExpiringBatches(ctx, time.Duration(days)*day)
		if err != nil {
			return nil, err
		}
		now := h.now()
		rows := make([]ExpiringBatchReadModel, 0, len(batches))
		for i := range batches {
			rows = append(rows, expiringRow(&batches[i], now))
		}
		return rows, nil
	})
}

// ============================================
// Catalog and ledger reads
// ============================================

func (h *Handler) GetItem(ctx context.Context, ref inventory.ItemRef) (*model.Item, error) {
	return h.svc.GetItem(ctx, ref)
}

func (h *Handler) ListItems(ctx context.Context, f store.ItemFilter) ([]model.Item, error) {
	return h.svc.ListItems(ctx, f)
}

func (h *Handler) ListBatches(ctx context.Context, itemID model.ID) ([]model.Batch, error) {
	return h.svc.ListActiveBatches(ctx, itemID)
}

func (h *Handler) PlanAllocation(ctx context.Context, itemID model.ID, qty decimal.Decimal) (*inventory.Plan, error) {
	return h.svc.PlanAllocation(ctx, itemID, qty)
}

func (h *Handler) Availability(ctx context.Context, itemID model.ID) (*inventory.Availability, error) {
	return h.svc.AvailableQuantity(ctx, itemID)
}

func (h *Handler) GetReservation(ctx context.Context, id model.ID) (*model.Reservation, error) {
	return h.svc.GetReservation(ctx, id)
}

func (h *Handler) ListAdjustments(ctx context.Context, itemID model.ID) ([]model.Adjustment, error) {
	return h.svc.ListAdjustments(ctx, itemID)
}

// ============================================
// Journal
// ============================================

func (h *Handler) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	return h.svc.ListTransactions(ctx, f)
}

func (h *Handler) History(ctx context.Context, f model.TransactionFilter) iter.Seq2[model.Transaction, error] {
	return h.svc.History(ctx, f)
}
