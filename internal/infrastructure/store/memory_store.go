package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/example/farm-ledger/internal/model"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store. Units of work are serialised and
// applied copy-on-write, so a failed unit of work leaves no trace.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState

	// conflicts makes the next N units of work fail with ErrConflict.
	conflicts int
}

type memState struct {
	items        map[model.ID]model.Item
	skus         map[string]model.ID
	batches      map[model.ID]model.Batch
	transactions []model.Transaction
	reservations map[model.ID]model.Reservation
	adjustments  []model.Adjustment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			items:        make(map[model.ID]model.Item),
			skus:         make(map[string]model.ID),
			batches:      make(map[model.ID]model.Batch),
			reservations: make(map[model.ID]model.Reservation),
		},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		items:        make(map[model.ID]model.Item, len(s.items)),
		skus:         make(map[string]model.ID, len(s.skus)),
		batches:      make(map[model.ID]model.Batch, len(s.batches)),
		transactions: slices.Clone(s.transactions),
		reservations: make(map[model.ID]model.Reservation, len(s.reservations)),
		adjustments:  slices.Clone(s.adjustments),
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.skus {
		c.skus[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	return c
}

// FailWithConflict makes the next n units of work fail with ErrConflict
// before fn runs.
func (m *MemoryStore) FailWithConflict(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only if fn succeeds and ctx is still live.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflicts > 0 {
		m.conflicts--
		return fmt.Errorf("%w: injected", ErrConflict)
	}

	work := m.state.clone()
	if err := fn(&memTx{memReader{state: work}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(memReader{state: m.state})
}

// ============================================
// Reads
// ============================================

type memReader struct {
	state *memState
}

func (r memReader) GetItem(ctx context.Context, id model.ID) (*model.Item, error) {
	item, ok := r.state.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (r memReader) GetItemBySKU(ctx context.Context, sku string) (*model.Item, error) {
	id, ok := r.state.skus[strings.ToUpper(sku)]
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetItem(ctx, id)
}

func (r memReader) ListItems(ctx context.Context, f ItemFilter) ([]model.Item, error) {
	items := make([]model.Item, 0, len(r.state.items))
	for _, item := range r.state.items {
		if f.ActiveOnly && !item.Active {
			continue
		}
		if f.BelowReorder && !(item.Active && item.BelowReorder()) {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b model.Item) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return paginate(items, f.Page, f.PageSize), nil
}

func (r memReader) ActiveBatches(ctx context.Context, itemID model.ID) ([]model.Batch, error) {
	var batches []model.Batch
	for _, b := range r.state.batches {
		if b.ItemID == itemID && b.HasStock() {
			batches = append(batches, b)
		}
	}
	sortFIFO(batches)
	return batches, nil
}

func (r memReader) ExpiringBatches(ctx context.Context, before time.Time) ([]model.Batch, error) {
	var batches []model.Batch
	for _, b := range r.state.batches {
		if b.HasStock() && b.ExpiresBy(before) {
			batches = append(batches, b)
		}
	}
	slices.SortFunc(batches, func(a, b model.Batch) int {
		if c := a.ExpiryDate.Compare(*b.ExpiryDate); c != 0 {
			return c
		}
		return cmpID(a.ID, b.ID)
	})
	return batches, nil
}

func (r memReader) SumActiveRemaining(ctx context.Context, itemID model.ID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, b := range r.state.batches {
		if b.ItemID == itemID && b.Active {
			total = total.Add(b.RemainingQuantity)
		}
	}
	return total, nil
}

func (r memReader) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	var out []model.Transaction
	for i := len(r.state.transactions) - 1; i >= 0; i-- {
		t := r.state.transactions[i]
		if f.Matches(&t) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpID(b.ID, a.ID)
	})
	return paginate(out, f.Page, f.PageSize), nil
}

func (r memReader) GetReservation(ctx context.Context, id model.ID) (*model.Reservation, error) {
	res, ok := r.state.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &res, nil
}

func (r memReader) SumHoldingReservations(ctx context.Context, itemID model.ID, now time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, res := range r.state.reservations {
		if res.ItemID == itemID && res.Holding(now) {
			total = total.Add(res.Quantity)
		}
	}
	return total, nil
}

func (r memReader) CountPendingReservations(ctx context.Context, itemID model.ID) (int, error) {
	n := 0
	for _, res := range r.state.reservations {
		if res.ItemID == itemID && res.Status == model.ReservationPending {
			n++
		}
	}
	return n, nil
}

func (r memReader) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, res := range r.state.reservations {
		if res.Status == model.ReservationPending && !now.Before(res.ExpiresAt) {
			out = append(out, res)
		}
	}
	slices.SortFunc(out, func(a, b model.Reservation) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return cmpID(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memReader) ListAdjustments(ctx context.Context, itemID model.ID) ([]model.Adjustment, error) {
	var out []model.Adjustment
	for _, a := range r.state.adjustments {
		if a.ItemID == itemID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ============================================
// Writes
// ============================================

// memTx needs no row locks: the whole unit of work runs under MemoryStore.mu.
type memTx struct {
	memReader
}

func (t *memTx) LockItem(ctx context.Context, id model.ID) (*model.Item, error) {
	return t.GetItem(ctx, id)
}

func (t *memTx) LockBatches(ctx context.Context, itemID model.ID) ([]model.Batch, error) {
	return t.ActiveBatches(ctx, itemID)
}

func (t *memTx) LockReservation(ctx context.Context, id model.ID) (*model.Reservation, error) {
	return t.GetReservation(ctx, id)
}

func (t *memTx) InsertItem(ctx context.Context, item *model.Item) error {
	key := strings.ToUpper(item.SKU)
	if _, exists := t.state.skus[key]; exists {
		return fmt.Errorf("%w: sku %s", ErrDuplicate, item.SKU)
	}
	if _, exists := t.state.items[item.ID]; exists {
		return fmt.Errorf("%w: item %s", ErrDuplicate, item.ID)
	}
	t.state.items[item.ID] = *item
	t.state.skus[key] = item.ID
	return nil
}

func (t *memTx) UpdateItem(ctx context.Context, item *model.Item) error {
	if _, ok := t.state.items[item.ID]; !ok {
		return ErrNotFound
	}
	t.state.items[item.ID] = *item
	return nil
}

func (t *memTx) InsertBatch(ctx context.Context, batch *model.Batch) error {
	if _, exists := t.state.batches[batch.ID]; exists {
		return fmt.Errorf("%w: batch %s", ErrDuplicate, batch.ID)
	}
	t.state.batches[batch.ID] = *batch
	return nil
}

func (t *memTx) UpdateBatchRemaining(ctx context.Context, id model.ID, remaining decimal.Decimal, at time.Time) error {
	b, ok := t.state.batches[id]
	if !ok {
		return ErrNotFound
	}
	if remaining.IsNegative() || remaining.GreaterThan(b.QuantityReceived) {
		return fmt.Errorf("batch %s: remaining %s outside [0, %s]", id, remaining, b.QuantityReceived)
	}
	b.RemainingQuantity = remaining
	b.UpdatedAt = at
	t.state.batches[id] = b
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	t.state.transactions = append(t.state.transactions, *tr)
	return nil
}

func (t *memTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if _, exists := t.state.reservations[r.ID]; exists {
		return fmt.Errorf("%w: reservation %s", ErrDuplicate, r.ID)
	}
	t.state.reservations[r.ID] = *r
	return nil
}

func (t *memTx) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	if _, ok := t.state.reservations[r.ID]; !ok {
		return ErrNotFound
	}
	t.state.reservations[r.ID] = *r
	return nil
}

func (t *memTx) InsertAdjustment(ctx context.Context, a *model.Adjustment) error {
	t.state.adjustments = append(t.state.adjustments, *a)
	return nil
}

// ============================================
// Helpers
// ============================================

func sortFIFO(batches []model.Batch) {
	slices.SortFunc(batches, func(a, b model.Batch) int {
		if model.FIFOLess(&a, &b) {
			return -1
		}
		if model.FIFOLess(&b, &a) {
			return 1
		}
		return 0
	})
}

func cmpID(a, b model.ID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
