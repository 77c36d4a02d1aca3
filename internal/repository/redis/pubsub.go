package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type BookingsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewBookingsPubSub(rdb *redis.Client) *BookingsPubSub {
	return &BookingsPubSub{
		rdb:     rdb,
		channel: ChannelBookingsChanged(),
	}
}

type bookingChangedMsg struct {
	Type      string `json:"type"`
	EventID   string `json:"event_id"`
	BookingID string `json:"booking_id"`
	TsUnix    int64  `json:"ts_unix"`
}

func (p *BookingsPubSub) PublishBookingChanged(ctx context.Context, eventID, bookingID string) error {
	msg := bookingChangedMsg{
		Type:      "booking_changed",
		EventID:   eventID,
		BookingID: bookingID,
		TsUnix:    time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *BookingsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, eventID string)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev bookingChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.EventID != "" {
				handler(ctx, ev.EventID)
			}
		}
	}
}
