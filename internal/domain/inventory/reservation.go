package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/model"
)

type ReserveInput struct {
	ItemID    model.ID
	Quantity  decimal.Decimal
	Module    string
	Reference string
	// TTL <= 0 uses the service default.
	TTL   time.Duration
	Actor string
}

// Reserve places a soft hold. Batches are not touched; the hold only lowers
// the available quantity until it is confirmed, cancelled or expires.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*model.Reservation, error) {
	if err := checkQuantity(in.Quantity); err != nil {
		return nil, err
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.reservationTTL
	}

	var res *model.Reservation
	err := s.execute(ctx, "reserve", func(ctx context.Context, u *unitOfWork) error {
		item, err := lockActiveItem(ctx, u.tx, in.ItemID)
		if err != nil {
			return err
		}
		held, err := u.tx.SumHoldingReservations(ctx, item.ID, u.now)
		if err != nil {
			return err
		}
		available := item.CurrentQuantity.Sub(held)
		if available.LessThan(in.Quantity) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientAvailableStock, in.Quantity, available)
		}

		actor := in.Actor
		if actor == "" {
			actor = defaultActor
		}
		res = &model.Reservation{
			ID:        s.ids.NextID(),
			ItemID:    item.ID,
			Quantity:  in.Quantity,
			Module:    in.Module,
			Reference: in.Reference,
			Status:    model.ReservationPending,
			ExpiresAt: u.now.Add(ttl),
			Actor:     actor,
			CreatedAt: u.now,
			UpdatedAt: u.now,
		}
		if err := u.tx.InsertReservation(ctx, res); err != nil {
			return err
		}
		u.emit(EventReservationCreated, item.ID, reservationChanged(res))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation created",
		zap.Int64("reservation_id", res.ID.Int64()),
		zap.Int64("item_id", res.ItemID.Int64()),
		zap.String("quantity", res.Quantity.String()),
		zap.Time("expires_at", res.ExpiresAt))
	return res, nil
}

func lockReservation(ctx context.Context, tx store.Tx, id model.ID) (*model.Reservation, error) {
	res, err := tx.LockReservation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	return res, err
}

type ConfirmResult struct {
	Reservation *model.Reservation `json:"reservation"`
	Deduction   *DeductionResult   `json:"deduction"`
}

// Confirm turns a pending hold into a FIFO deduction of the reserved quantity.
// An expired hold is rejected and left for the sweep.
func (s *Service) Confirm(ctx context.Context, id model.ID, actor string) (*ConfirmResult, error) {
	var out *ConfirmResult
	err := s.execute(ctx, "confirm_reservation", func(ctx context.Context, u *unitOfWork) error {
		res, err := lockReservation(ctx, u.tx, id)
		if err != nil {
			return err
		}
		if res.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrReservationAlreadyResolved, id, res.Status)
		}
		if !u.now.Before(res.ExpiresAt) {
			return fmt.Errorf("%w: %s expired at %s", ErrReservationExpired, id, res.ExpiresAt.Format(time.RFC3339))
		}

		item, err := lockActiveItem(ctx, u.tx, res.ItemID)
		if err != nil {
			return err
		}
		if actor == "" {
			actor = res.Actor
		}
		ded, err := s.deductLocked(ctx, u, item, res.Quantity, "", DeductContext{
			Module:    res.Module,
			Reference: res.Reference,
			Actor:     actor,
		})
		if err != nil {
			return err
		}

		res.Status = model.ReservationConfirmed
		res.TransactionID = &ded.TransactionID
		res.ResolvedAt = &u.now
		res.UpdatedAt = u.now
		if err := u.tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		u.emit(EventReservationConfirmed, res.ItemID, reservationChanged(res))

		out = &ConfirmResult{Reservation: res, Deduction: ded}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel releases a pending hold. Cancelling a resolved reservation returns
// it unchanged.
func (s *Service) Cancel(ctx context.Context, id model.ID) (*model.Reservation, error) {
	var res *model.Reservation
	err := s.execute(ctx, "cancel_reservation", func(ctx context.Context, u *unitOfWork) error {
		var err error
		res, err = lockReservation(ctx, u.tx, id)
		if err != nil {
			return err
		}
		if res.Status.Terminal() {
			return nil
		}
		return s.resolve(ctx, u, res, model.ReservationCancelled, EventReservationCancelled)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) resolve(ctx context.Context, u *unitOfWork, res *model.Reservation, status model.ReservationStatus, eventType string) error {
	res.Status = status
	res.ResolvedAt = &u.now
	res.UpdatedAt = u.now
	if err := u.tx.UpdateReservation(ctx, res); err != nil {
		return err
	}
	u.emit(eventType, res.ItemID, reservationChanged(res))
	return nil
}

type SweepResult struct {
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// SweepExpired moves every pending reservation past its expiry to expired.
// Each reservation is resolved in its own unit of work; failures are logged
// and skipped.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	for {
		cutoff := s.now().UTC()
		var due []model.Reservation
		err := s.view(ctx, func(r store.Reader) error {
			var err error
			due, err = r.ListExpiredReservations(ctx, cutoff, s.sweepBatchSize)
			return err
		})
		if err != nil {
			return result, err
		}

		progressed := 0
		for _, candidate := range due {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			expired, err := s.expireOne(ctx, candidate.ID)
			if err != nil {
				result.Failed++
				s.logger.Error("failed to expire reservation",
					zap.Int64("reservation_id", candidate.ID.Int64()), zap.Error(err))
				continue
			}
			if expired {
				result.Expired++
				progressed++
			}
		}

		if len(due) < s.sweepBatchSize || progressed == 0 {
			break
		}
	}

	if result.Expired > 0 || result.Failed > 0 {
		s.logger.Info("reservation sweep finished",
			zap.Int("expired", result.Expired), zap.Int("failed", result.Failed))
	}
	return result, nil
}

func (s *Service) expireOne(ctx context.Context, id model.ID) (bool, error) {
	expired := false
	err := s.execute(ctx, "expire_reservation", func(ctx context.Context, u *unitOfWork) error {
		expired = false
		res, err := lockReservation(ctx, u.tx, id)
		if err != nil {
			return err
		}
		// Confirmed or cancelled since it was listed.
		if res.Status.Terminal() || u.now.Before(res.ExpiresAt) {
			return nil
		}
		expired = true
		return s.resolve(ctx, u, res, model.ReservationExpired, EventReservationExpired)
	})
	return expired, err
}

func (s *Service) GetReservation(ctx context.Context, id model.ID) (*model.Reservation, error) {
	var res *model.Reservation
	err := s.view(ctx, func(r store.Reader) error {
		var err error
		res, err = r.GetReservation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrReservationNotFound, id)
		}
		return err
	})
	return res, err
}

// Availability splits an item balance into held and free stock.
type Availability struct {
	ItemID    model.ID        `json:"item_id"`
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
}

func (s *Service) AvailableQuantity(ctx context.Context, itemID model.ID) (*Availability, error) {
	var av *Availability
	err := s.view(ctx, func(r store.Reader) error {
		item, err := getItem(ctx, r, itemID)
		if err != nil {
			return err
		}
		held, err := r.SumHoldingReservations(ctx, itemID, s.now().UTC())
		if err != nil {
			return err
		}
		av = &Availability{
			ItemID:    itemID,
			Balance:   item.CurrentQuantity,
			Reserved:  held,
			Available: item.CurrentQuantity.Sub(held),
		}
		return nil
	})
	return av, err
}
