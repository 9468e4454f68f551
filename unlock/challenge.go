// Package unlock issues and checks the one-time challenges that gate the start of a ride.
package unlock

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrExpiredChallenge  = errors.New("unlock challenge expired")
	ErrInvalidCode       = errors.New("invalid unlock code")
	ErrChallengeNotFound = errors.New("no unlock challenge issued")
	ErrUnsupportedMethod = errors.New("unsupported unlock method")
	ErrOutsideWindow     = errors.New("reservation is not within its unlock window")
	ErrNoEmailAddress    = errors.New("no email address on file")
)

type Method string

const (
	MethodQR    Method = "qr"
	MethodEmail Method = "email"
)

func (m Method) Valid() bool {
	return m == MethodQR || m == MethodEmail
}

// MaxAttempts is how many wrong submissions a challenge absorbs before it
// must be re-issued.
const MaxAttempts = 5

// CodeLength is the number of digits in an emailed code.
const CodeLength = 6

type Challenge struct {
	ID            uuid.UUID    `db:"id"`
	ReservationID uuid.UUID    `db:"reservation_id"`
	Method        Method       `db:"method"`
	SecretHash    string       `db:"secret_hash"`
	ExpiresAt     time.Time    `db:"expires_at"`
	ConsumedAt    sql.NullTime `db:"consumed_at"`
	Attempts      int          `db:"attempts"`
	CreatedAt     time.Time    `db:"created_at"`
}

// Ref is what the caller gets back when a challenge is issued. The secret
// itself never leaves the service: for QR it is printed on the bike, for
// email it is in the customer's mailbox.
type Ref struct {
	ID            uuid.UUID `json:"challengeId"`
	ReservationID uuid.UUID `json:"reservationId"`
	Method        Method    `json:"method"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func (c Challenge) Ref() Ref {
	return Ref{ID: c.ID, ReservationID: c.ReservationID, Method: c.Method, ExpiresAt: c.ExpiresAt}
}

// Check validates payload against the challenge at time now. It does not
// mutate c; the caller records the attempt or consumes the challenge.
func (c Challenge) Check(now time.Time, payload string) error {
	if c.ConsumedAt.Valid || c.Attempts >= MaxAttempts || !now.Before(c.ExpiresAt) {
		return ErrExpiredChallenge
	}
	if !matches(c.SecretHash, normalize(c.Method, payload)) {
		return ErrInvalidCode
	}
	return nil
}

// NewChallenge builds a challenge for reservationID whose secret is secret.
func NewChallenge(reservationID uuid.UUID, method Method, secret string, now time.Time, ttl time.Duration) (Challenge, error) {
	if !method.Valid() {
		return Challenge{}, ErrUnsupportedMethod
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(normalize(method, secret)), bcrypt.DefaultCost)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{
		ID:            uuid.New(),
		ReservationID: reservationID,
		Method:        method,
		SecretHash:    string(hash),
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}, nil
}

// GenerateCode returns a uniformly random numeric code of n digits.
func GenerateCode(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}

// normalize trims scanner and keyboard noise. Bike labels are matched case-insensitively.
func normalize(method Method, s string) string {
	s = strings.TrimSpace(s)
	if method == MethodQR {
		s = strings.ToUpper(s)
	}
	return s
}

func matches(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
