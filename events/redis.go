package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "reservation:"

func channel(reservationID uuid.UUID) string {
	return channelPrefix + reservationID.String()
}

// RedisBus publishes through Redis pub/sub so every instance sees every
// event. Run feeds what arrives from Redis into a local Bus, which is what
// websocket clients subscribe to.
type RedisBus struct {
	client *redis.Client
	local  *Bus
	logger *slog.Logger
}

func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{client: client, local: NewBus(), logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel(e.ReservationID), payload).Err()
}

func (b *RedisBus) Subscribe(reservationID uuid.UUID) (<-chan Event, func()) {
	return b.local.Subscribe(reservationID)
}

// Run relays Redis messages to local subscribers until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	ps := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			e, err := decode(msg.Channel, msg.Payload)
			if err != nil {
				b.logger.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			_ = b.local.Publish(ctx, e)
		}
	}
}

func decode(ch, payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, err
	}
	id, err := uuid.Parse(strings.TrimPrefix(ch, channelPrefix))
	if err != nil {
		return Event{}, err
	}
	if e.ReservationID != id {
		return Event{}, errors.New("channel and payload disagree on reservation")
	}
	return e, nil
}
