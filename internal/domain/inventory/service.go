package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/model"
)

const (
	DefaultMaxBatchItems   = 50
	DefaultReservationTTL  = 30 * time.Minute
	DefaultConflictRetries = 3
	DefaultSweepBatchSize  = 500

	defaultActor = "system"
)

// Publisher sends events to the outside world after a unit of work commits.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// IDGenerator hands out monotonically increasing ids.
type IDGenerator interface {
	NextID() model.ID
}

type Options struct {
	MaxBatchItems         int
	DefaultReservationTTL time.Duration
	ConflictRetries       int
	SweepBatchSize        int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Service struct {
	store     store.Store
	ids       IDGenerator
	publisher Publisher
	logger    *zap.Logger

	maxBatchItems  int
	reservationTTL time.Duration
	retries        int
	sweepBatchSize int
	now            func() time.Time
}

// NewService wires the ledger. publisher may be nil, in which case events
// are dropped.
func NewService(st store.Store, ids IDGenerator, publisher Publisher, logger *zap.Logger, opts Options) *Service {
	s := &Service{
		store:          st,
		ids:            ids,
		publisher:      publisher,
		logger:         logger,
		maxBatchItems:  opts.MaxBatchItems,
		reservationTTL: opts.DefaultReservationTTL,
		retries:        opts.ConflictRetries,
		sweepBatchSize: opts.SweepBatchSize,
		now:            opts.Clock,
	}
	if s.maxBatchItems <= 0 {
		s.maxBatchItems = DefaultMaxBatchItems
	}
	if s.reservationTTL <= 0 {
		s.reservationTTL = DefaultReservationTTL
	}
	if s.retries < 0 {
		s.retries = 0
	}
	if s.sweepBatchSize <= 0 {
		s.sweepBatchSize = DefaultSweepBatchSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// unitOfWork is the state of one attempt at a mutating operation.
type unitOfWork struct {
	tx     store.Tx
	now    time.Time
	events []Event
}

func (u *unitOfWork) emit(eventType string, itemID model.ID, data any) {
	u.events = append(u.events, Event{
		ID:        uuid.New().String(),
		EventType: eventType,
		ItemID:    itemID,
		Data:      data,
		Timestamp: u.now,
	})
}

// execute runs fn in one store transaction, retrying the whole unit of work
// on write conflicts. Events collected by the successful attempt are
// published after commit.
func (s *Service) execute(ctx context.Context, op string, fn func(ctx context.Context, u *unitOfWork) error) error {
	var events []Event
	for attempt := 0; ; attempt++ {
		err := s.store.WithTx(ctx, func(tx store.Tx) error {
			u := &unitOfWork{tx: tx, now: s.now().UTC()}
			if err := fn(ctx, u); err != nil {
				return err
			}
			events = u.events
			return nil
		})
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrConflict) {
			if attempt < s.retries {
				s.logger.Debug("write conflict, retrying",
					zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
				continue
			}
			return fmt.Errorf("%s: %w: %v", op, ErrConcurrencyConflict, err)
		}
		return err
	}

	s.publish(ctx, events)
	return nil
}

// view runs fn against committed state.
func (s *Service) view(ctx context.Context, fn func(r store.Reader) error) error {
	return s.store.View(ctx, fn)
}

func (s *Service) publish(ctx context.Context, events []Event) {
	if s.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := s.publisher.Publish(ctx, ev.ItemID.String(), ev); err != nil {
			s.logger.Error("failed to publish event",
				zap.String("event_type", ev.EventType),
				zap.Int64("item_id", ev.ItemID.Int64()),
				zap.Error(err))
		}
	}
}

// ============================================
// Shared ledger steps
// ============================================

func getItem(ctx context.Context, r store.Reader, id model.ID) (*model.Item, error) {
	item, err := r.GetItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return item, err
}

// lockActiveItem takes the item row lock and rejects inactive items.
func lockActiveItem(ctx context.Context, tx store.Tx, id model.ID) (*model.Item, error) {
	item, err := tx.LockItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if !item.Active {
		return nil, fmt.Errorf("%w: %s", ErrItemInactive, item.SKU)
	}
	return item, nil
}

// recomputeBalance sets the item balance to the sum of its active batch
// remainders and persists it. It is the only writer of CurrentQuantity.
func recomputeBalance(ctx context.Context, tx store.Tx, item *model.Item, now time.Time) error {
	total, err := tx.SumActiveRemaining(ctx, item.ID)
	if err != nil {
		return err
	}
	if total.IsNegative() {
		return fmt.Errorf("item %s: negative balance %s", item.ID, total)
	}
	item.CurrentQuantity = total
	item.UpdatedAt = now
	return tx.UpdateItem(ctx, item)
}

// recordTransaction appends one journal row.
func (s *Service) recordTransaction(ctx context.Context, u *unitOfWork, t *model.Transaction) error {
	t.ID = s.ids.NextID()
	t.CreatedAt = u.now
	if t.Actor == "" {
		t.Actor = defaultActor
	}
	return u.tx.InsertTransaction(ctx, t)
}

// applyPlan writes the planned takes back to the locked batches.
func applyPlan(ctx context.Context, tx store.Tx, batches []model.Batch, plan *Plan, now time.Time) error {
	byID := make(map[model.ID]*model.Batch, len(batches))
	for i := range batches {
		byID[batches[i].ID] = &batches[i]
	}
	for _, a := range plan.Allocations {
		b, ok := byID[a.BatchID]
		if !ok {
			return fmt.Errorf("batch %s not locked", a.BatchID)
		}
		remaining := b.RemainingQuantity.Sub(a.Quantity)
		if remaining.IsNegative() {
			return fmt.Errorf("%w: batch %s", ErrInsufficientStock, b.ID)
		}
		if err := tx.UpdateBatchRemaining(ctx, b.ID, remaining, now); err != nil {
			return err
		}
		b.RemainingQuantity = remaining
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// checkQuantity rejects quantities that are not positive or are finer than
// the ledger stores.
func checkQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidQuantity, q)
	}
	return checkScale(q, ErrInvalidQuantity)
}

// checkScale rejects values with more decimal places than the ledger stores.
func checkScale(d decimal.Decimal, kind error) error {
	if !model.FitsScale(d, model.QuantityScale) {
		return fmt.Errorf("%w: %s has more than %d decimal places", kind, d, model.QuantityScale)
	}
	return nil
}
