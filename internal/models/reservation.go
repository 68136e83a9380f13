package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Reservation states. The legacy booking system wrote the French value
// "annuler" for cancellations; NormalizeStatus folds it into StatusCancelled
// so the rest of the engine only ever compares against the three canonical
// values.
const (
	StatusPending         = "pending"
	StatusConfirmed       = "confirmed"
	StatusCancelled       = "cancelled"
	StatusCancelledLegacy = "annuler"
)

// Cancellation reasons recorded on the row when a reservation leaves the
// active states.
const (
	ReasonClientRequest = "client_request"
	ReasonExpired       = "expired"
	ReasonClockSkew     = "clock_skew"
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonPaymentFailed = "payment_failed"
)

func NormalizeStatus(status string) string {
	if status == StatusCancelledLegacy {
		return StatusCancelled
	}
	return status
}

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID           string    `bun:"id,pk" json:"id"`
	Reference    string    `bun:"reference,notnull" json:"reference"`
	ClientID     *string   `bun:"client_id" json:"client_id,omitempty"`
	FieldID      string    `bun:"field_id,notnull" json:"field_id"`
	Date         string    `bun:"date,notnull" json:"date"`             // YYYY-MM-DD
	StartTime    string    `bun:"start_time,notnull" json:"start_time"` // HH:MM, field-local
	Status       string    `bun:"status,notnull" json:"status"`
	CancelReason string    `bun:"cancel_reason,nullzero" json:"cancel_reason,omitempty"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}

// IsCancelled reports whether the reservation is in the terminal cancelled
// state, accounting for the legacy status value.
func (r *Reservation) IsCancelled() bool {
	return NormalizeStatus(r.Status) == StatusCancelled
}
