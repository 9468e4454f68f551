// Package events carries reservation and payment state changes to whoever
// is listening: websocket clients on this instance, and other instances via
// Redis when it is configured.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	ReservationCreated   Type = "reservation.created"
	ReservationActivated Type = "reservation.activated"
	ReservationCompleted Type = "reservation.completed"
	ReservationCancelled Type = "reservation.cancelled"
	RideProgress         Type = "ride.progress"
	PaymentStarted       Type = "payment.started"
	PaymentSettled       Type = "payment.settled"
)

type Event struct {
	Type          Type       `json:"type"`
	ReservationID uuid.UUID  `json:"reservationId"`
	PaymentID     *uuid.UUID `json:"paymentId,omitempty"`
	Status        string     `json:"status"`
	DistanceKM    float64    `json:"distance,omitempty"`
	At            time.Time  `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber hands out a channel of events for one reservation. The returned
// func must be called to release the subscription.
type Subscriber interface {
	Subscribe(reservationID uuid.UUID) (<-chan Event, func())
}

const subscriberBuffer = 16

// Bus is an in-process Publisher and Subscriber.
type Bus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]map[chan Event]struct{})}
}

// Publish delivers e to every current subscriber of its reservation. Slow
// subscribers miss events rather than block the publisher.
func (b *Bus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[e.ReservationID] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

func (b *Bus) Subscribe(reservationID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[reservationID] == nil {
		b.subs[reservationID] = make(map[chan Event]struct{})
	}
	b.subs[reservationID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if conns, ok := b.subs[reservationID]; ok {
				delete(conns, ch)
				if len(conns) == 0 {
					delete(b.subs, reservationID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions for a reservation.
func (b *Bus) Subscribers(reservationID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[reservationID])
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
