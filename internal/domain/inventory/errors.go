package inventory

import (
	"errors"
)

var (
	ErrItemNotFound               = errors.New("item not found")
	ErrItemInactive               = errors.New("item is inactive")
	ErrDuplicateSKU               = errors.New("sku already exists")
	ErrInvalidItem                = errors.New("invalid item")
	ErrInvalidItemRef             = errors.New("item reference must name exactly one of id or sku")
	ErrInvalidQuantity            = errors.New("quantity must be positive")
	ErrInvalidCost                = errors.New("invalid unit cost")
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrInsufficientAvailableStock = errors.New("insufficient available stock")
	ErrItemHasOpenReservations    = errors.New("item has open reservations")
	ErrReservationNotFound        = errors.New("reservation not found")
	ErrReservationExpired         = errors.New("reservation expired")
	ErrReservationAlreadyResolved = errors.New("reservation already resolved")
	ErrTooManyItems               = errors.New("too many items in one request")
	ErrNoItems                    = errors.New("no items in request")
	ErrReasonRequired             = errors.New("reason is required")
	ErrInvalidAdjustmentKind      = errors.New("invalid adjustment kind")
	ErrInvalidFilter              = errors.New("invalid filter")
	ErrConcurrencyConflict        = errors.New("concurrent update conflict, retry the operation")
)

// kinds maps every sentinel to the name callers switch on.
var kinds = []struct {
	err  error
	kind string
}{
	{ErrItemNotFound, "ItemNotFound"},
	{ErrItemInactive, "ItemInactive"},
	{ErrDuplicateSKU, "DuplicateSku"},
	{ErrInvalidItem, "InvalidItem"},
	{ErrInvalidItemRef, "InvalidItemRef"},
	{ErrInvalidQuantity, "InvalidQuantity"},
	{ErrInvalidCost, "InvalidCost"},
	{ErrInsufficientStock, "InsufficientStock"},
	{ErrInsufficientAvailableStock, "InsufficientAvailableStock"},
	{ErrItemHasOpenReservations, "ItemHasOpenReservations"},
	{ErrReservationNotFound, "ReservationNotFound"},
	{ErrReservationExpired, "ReservationExpired"},
	{ErrReservationAlreadyResolved, "ReservationAlreadyResolved"},
	{ErrTooManyItems, "TooManyItems"},
	{ErrNoItems, "NoItems"},
	{ErrReasonRequired, "ReasonRequired"},
	{ErrInvalidAdjustmentKind, "InvalidAdjustmentKind"},
	{ErrInvalidFilter, "InvalidFilter"},
	{ErrConcurrencyConflict, "ConcurrencyConflict"},
}

// KindOf returns the error kind of err, or "Internal" for errors raised
// outside the ledger rules.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
