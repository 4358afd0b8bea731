package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/domain/inventory"
	"github.com/example/farm-ledger/internal/infrastructure/cache"
	"github.com/example/farm-ledger/internal/infrastructure/kafka"
	"github.com/example/farm-ledger/internal/model"
)

// ErrInvalidCommand is returned when a command fails structural validation.
var ErrInvalidCommand = errors.New("invalid command")

// Handler is the write side. Every successful mutation drops the cached read
// views so the query side recomputes them on next access.
type Handler struct {
	svc      *inventory.Service
	views    cache.ViewCache
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(svc *inventory.Service, views cache.ViewCache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:      svc,
		views:    views,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) check(cmd any) error {
	if err := h.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return nil
}

// invalidate runs after commit; a failure only delays freshness until the
// view TTL runs out.
func (h *Handler) invalidate(ctx context.Context) {
	if h.views == nil {
		return
	}
	if err := h.views.InvalidateAll(ctx); err != nil {
		h.logger.Warn("failed to invalidate views", zap.Error(err))
	}
}

// ============================================
// Catalog
// ============================================

func (h *Handler) CreateItem(ctx context.Context, cmd CreateItem) (*model.Item, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	item, err := h.svc.CreateItem(ctx, inventory.CreateItemInput{
		SKU:                cmd.SKU,
		Name:               cmd.Name,
		Unit:               cmd.Unit,
		Category:           cmd.Category,
		ReorderThreshold:   cmd.ReorderThreshold,
		MinStock:           cmd.MinStock,
		DefaultSupplierRef: cmd.DefaultSupplierRef,
	})
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx)
	return item, nil
}

func (h *Handler) UpdateItemPolicy(ctx context.Context, cmd UpdateItemPolicy) (*model.Item, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	item, err := h.svc.UpdateItemPolicy(ctx, cmd.ItemID, inventory.ItemPolicyUpdate{
		Name:               cmd.Name,
		Category:           cmd.Category,
		ReorderThreshold:   cmd.ReorderThreshold,
		MinStock:           cmd.MinStock,
		DefaultSupplierRef: cmd.DefaultSupplierRef,
	})
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx)
	return item, nil
}

func (h *Handler) DeactivateItem(ctx context.Context, cmd DeactivateItem) (*model.Item, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	item, err := h.svc.DeactivateItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx)
	return item, nil
}

func (h *Handler) RecomputeBalance(ctx context.Context, cmd RecomputeBalance) (decimal.Decimal, error) {
	if err := h.check(cmd); err != nil {
		return decimal.Zero, err
	}
	balance, err := h.svc.RecomputeBalance(ctx, cmd.ItemID)
	if err != nil {
		return decimal.Zero, err
	}
	h.invalidate(ctx)
	return balance, nil
}

// ============================================
// Ledger
// ============================================

func (h *Handler) ReceiveBatch(ctx context.Context, cmd ReceiveBatch) (*inventory.ReceiveBatchResult, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	in := inventory.ReceiveBatchInput{
		ItemID:      cmd.ItemID,
		Quantity:    cmd.Quantity,
		UnitCost:    cmd.UnitCost,
		ExpiryDate:  cmd.ExpiryDate,
		BatchNumber: cmd.BatchNumber,
		SupplierRef: cmd.SupplierRef,
		PORef:       cmd.PORef,
		Module:      cmd.Module,
		Note:        cmd.Note,
		Actor:       cmd.Actor,
	}
	if cmd.PurchaseDate != nil {
		in.PurchaseDate = *cmd.PurchaseDate
	}
	res, err := h.svc.ReceiveBatch(ctx, in)
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx)
	return res, nil
}

func (h *Handler) BatchDeduct(ctx context.Context, cmd BatchDeduct) (*inventory.BatchDeductResult, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	res, err := h.svc.BatchDeduct(ctx, inventory.BatchDeductInput{
		Deductions: cmd.Deductions,
		Context: inventory.DeductContext{
			Module:    cmd.Module,
			Reference: cmd.Reference,
			SessionID: cmd.SessionID,
			Actor:     cmd.Actor,
		},
	})
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx)
	return res, nil
}

// ============================================
// Reservations
// ============================================

func (h *Handler) Reserve(ctx context.Context, cmd Reserve) (*model.Reservation, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	res, err := h.svc.Reserve(ctx, inventory.ReserveInput{
		ItemID:    cmd.ItemID,
		Quantity:  cmd.Quantity,
		Module:    cmd.Module,
		Reference: cmd.Reference,
		TTL:       time.Duration(cmd.TTLSeconds) * time.Second,
		Actor:     cmd.Actor,
	})
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx)
	return res, nil
}

func (h *Handler) ConfirmReservation(ctx context.Context, cmd ConfirmReservation) (*inventory.ConfirmResult, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	res, err := h.svc.Confirm(ctx, cmd.ReservationID, cmd.Actor)
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx)
	return res, nil
}

func (h *Handler) CancelReservation(ctx context.Context, cmd CancelReservation) (*model.Reservation, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	res, err := h.svc.Cancel(ctx, cmd.ReservationID)
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx)
	return res, nil
}

// SweepExpired expires overdue reservations and refreshes the views when
// anything changed.
func (h *Handler) SweepExpired(ctx context.Context) (inventory.SweepResult, error) {
	res, err := h.svc.SweepExpired(ctx)
	if res.Expired > 0 {
		h.invalidate(ctx)
	}
	return res, err
}

// ============================================
// Adjustments
// ============================================

func (h *Handler) Adjust(ctx context.Context, cmd Adjust) (*inventory.AdjustResult, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	res, err := h.svc.Adjust(ctx, inventory.AdjustInput{
		ItemID:   cmd.ItemID,
		Kind:     cmd.Kind,
		Value:    cmd.Value,
		Reason:   cmd.Reason,
		Actor:    cmd.Actor,
		UnitCost: cmd.UnitCost,
	})
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx)
	return res, nil
}

// ============================================
// Inbound messages
// ============================================

const (
	MessageReceiveBatch = "receive_batch"
	MessageBatchDeduct  = "batch_deduct"
)

// Message is the envelope operational modules send on the commands topic.
type Message struct {
	Command string          `json:"command" validate:"required,oneof=receive_batch batch_deduct"`
	Actor   string          `json:"actor" validate:"max=64"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// HandleMessage dispatches one message from the commands topic. Malformed
// messages are logged and dropped; domain failures are returned. Lost
// conflicts and internal failures wrap kafka.ErrRetry so the consumer holds
// the message instead of committing it.
func (h *Handler) HandleMessage(ctx context.Context, key, value []byte) error {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		h.logger.Warn("dropping malformed command", zap.ByteString("key", key), zap.Error(err))
		return nil
	}
	if err := h.check(msg); err != nil {
		h.logger.Warn("dropping invalid command", zap.ByteString("key", key), zap.Error(err))
		return nil
	}

	switch msg.Command {
	case MessageReceiveBatch:
		var cmd ReceiveBatch
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			h.logger.Warn("dropping malformed receive_batch", zap.ByteString("key", key), zap.Error(err))
			return nil
		}
		cmd.Actor = msg.Actor
		res, err := h.ReceiveBatch(ctx, cmd)
		if errors.Is(err, ErrInvalidCommand) {
			h.logger.Warn("dropping invalid receive_batch", zap.ByteString("key", key), zap.Error(err))
			return nil
		}
		if err != nil {
			return messageError(msg.Command, err)
		}
		h.logger.Info("command applied",
			zap.String("command", msg.Command),
			zap.Int64("batch_id", res.Batch.ID.Int64()))

	case MessageBatchDeduct:
		var cmd BatchDeduct
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			h.logger.Warn("dropping malformed batch_deduct", zap.ByteString("key", key), zap.Error(err))
			return nil
		}
		cmd.Actor = msg.Actor
		res, err := h.BatchDeduct(ctx, cmd)
		if errors.Is(err, ErrInvalidCommand) {
			h.logger.Warn("dropping invalid batch_deduct", zap.ByteString("key", key), zap.Error(err))
			return nil
		}
		if err != nil {
			return messageError(msg.Command, err)
		}
		h.logger.Info("command applied",
			zap.String("command", msg.Command),
			zap.String("session_id", res.SessionID),
			zap.String("total_cost", res.TotalCost.String()))
	}
	return nil
}

func messageError(command string, err error) error {
	switch inventory.KindOf(err) {
	case "ConcurrencyConflict", "Internal":
		return fmt.Errorf("%s: %w: %w", command, kafka.ErrRetry, err)
	}
	return fmt.Errorf("%s: %w", command, err)
}
