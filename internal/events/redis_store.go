package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStreamStore appends events to a capped Redis stream.
type RedisStreamStore struct {
	R      *redis.Client
	Stream string
	MaxLen int64
}

// Append implements EventStore. The stream entry id becomes the event id.
func (s RedisStreamStore) Append(ctx context.Context, ev Event) (Event, error) {
	stream := s.Stream
	if stream == "" {
		stream = "events:cart"
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Approx: true,
		Values: map[string]any{
			"topic":        ev.Topic,
			"aggregate_id": ev.AggregateID,
			"payload":      string(ev.Payload),
			"occurred_at":  ev.OccurredAt.Format(time.RFC3339Nano),
		},
	}
	if s.MaxLen > 0 {
		args.MaxLen = s.MaxLen
	}
	id, err := s.R.XAdd(ctx, args).Result()
	if err != nil {
		return Event{}, fmt.Errorf("xadd %s: %w", stream, err)
	}
	ev.ID = id
	return ev, nil
}

// Recent returns up to count of the newest events, newest first.
func (s RedisStreamStore) Recent(ctx context.Context, count int64) ([]Event, error) {
	stream := s.Stream
	if stream == "" {
		stream = "events:cart"
	}
	msgs, err := s.R.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		ev := Event{ID: m.ID}
		ev.Topic, _ = m.Values["topic"].(string)
		ev.AggregateID, _ = m.Values["aggregate_id"].(string)
		if p, ok := m.Values["payload"].(string); ok {
			ev.Payload = json.RawMessage(p)
		}
		if ts, ok := m.Values["occurred_at"].(string); ok {
			ev.OccurredAt, _ = time.Parse(time.RFC3339Nano, ts)
		}
		out = append(out, ev)
	}
	return out, nil
}

// LogNotifier writes every event to the context logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, ev Event) error {
	zerolog.Ctx(ctx).Info().
		Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("cart_id", ev.AggregateID).
		RawJSON("payload", ev.Payload).
		Msg("cart event")
	return nil
}
