// Package payment settles the cost of a finished ride over card, crypto or QR rails.
package payment

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("payment not found")
	ErrAmountMismatch      = errors.New("payment amount does not match reservation cost")
	ErrAlreadySettled      = errors.New("payment already settled with a different outcome")
	ErrPaymentInProgress   = errors.New("another payment for this reservation is in progress")
	ErrConfirmationPending = errors.New("payment confirmation pending")
	ErrExternalService     = errors.New("external payment service unavailable")
	ErrMissingReference    = errors.New("external reference required")
	ErrReferenceMismatch   = errors.New("external reference does not match payment")
	ErrReferenceInUse      = errors.New("external reference already used by another payment")
	ErrOperatorOnly        = errors.New("payment must be confirmed by an operator")
	ErrUnsupportedMethod   = errors.New("unsupported payment method")
)

type Method string

const (
	MethodCard   Method = "card"
	MethodCrypto Method = "crypto"
	MethodQR     Method = "qr"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCard, MethodCrypto, MethodQR:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Payment struct {
	ID            uuid.UUID      `db:"id"`
	ReservationID uuid.UUID      `db:"reservation_id"`
	UserID        string         `db:"user_id"`
	Method        Method         `db:"method"`
	AmountCents   int64          `db:"amount_cents"`
	Currency      string         `db:"currency"`
	Status        Status         `db:"status"`
	ExternalRef   sql.NullString `db:"external_ref"`
	CreatedAt     time.Time      `db:"created_at"`
	SettledAt     sql.NullTime   `db:"settled_at"`
}

// Outcome maps a confirmation result to the terminal status it settles to.
func Outcome(success bool) Status {
	if success {
		return StatusCompleted
	}
	return StatusFailed
}

// Resolve decides what a confirmation with outcome target does to a payment
// currently in status current. apply is true only for pending -> terminal;
// repeating the existing outcome is a no-op and a conflicting outcome is
// rejected.
func Resolve(current, target Status) (apply bool, err error) {
	switch {
	case current == StatusPending:
		return true, nil
	case current == target:
		return false, nil
	}
	return false, ErrAlreadySettled
}

// CheckAmount rejects a payment whose amount differs from the frozen cost.
func CheckAmount(amountCents, costCents int64) error {
	if amountCents != costCents {
		return ErrAmountMismatch
	}
	return nil
}
