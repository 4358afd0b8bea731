package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Terminal states are final.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationPending
}

type Reservation struct {
	ID            ID                `db:"id" json:"id"`
	ItemID        ID                `db:"item_id" json:"item_id"`
	Quantity      decimal.Decimal   `db:"quantity" json:"quantity"`
	Module        string            `db:"module" json:"module"`
	Reference     string            `db:"reference" json:"reference"`
	Status        ReservationStatus `db:"status" json:"status"`
	ExpiresAt     time.Time         `db:"expires_at" json:"expires_at"`
	TransactionID *ID               `db:"transaction_id" json:"transaction_id,omitempty"`
	Actor         string            `db:"actor" json:"actor"`
	ResolvedAt    *time.Time        `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// Holding reports whether the reservation still counts against availability at now.
func (r *Reservation) Holding(now time.Time) bool {
	return r.Status == ReservationPending && now.Before(r.ExpiresAt)
}
