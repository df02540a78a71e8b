package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/events"
)

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func newStore(t *testing.T) events.RedisStreamStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return events.RedisStreamStore{R: client, Stream: "events:test", MaxLen: 100}
}

func TestEmitPersistsEvent(t *testing.T) {
	store := newStore(t)
	notifier := &captureNotifier{}
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{notifier, events.LogNotifier{}}, Now: func() time.Time { return fixed }}

	ctx := context.Background()
	event, err := bus.Emit(ctx, events.TopicCartPlaced, "cart-1", map[string]any{"items": 2})
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)
	require.Equal(t, events.TopicCartPlaced, event.Topic)
	require.JSONEq(t, `{"items":2}`, string(event.Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "cart-1", recent[0].AggregateID)
	require.True(t, fixed.Equal(recent[0].OccurredAt))

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(recent[0].Payload, &decoded))
	require.Equal(t, 2, decoded["items"])
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Store: newStore(t)}
	ctx := context.Background()

	_, err := bus.Emit(ctx, " ", "cart-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicCartPlaced, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicCartPlaced, "cart-1", json.RawMessage(`{bad`))
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(ctx, events.TopicCartPlaced, "cart-1", nil)
	require.Error(t, err)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	boom := errors.New("boom")
	bus := events.Bus{Store: newStore(t), Notifiers: []events.Notifier{&captureNotifier{err: boom}, nil}}
	ev, err := bus.Emit(context.Background(), events.TopicCartAbandoned, "cart-9", nil)
	require.ErrorIs(t, err, boom)
	require.NotEmpty(t, ev.ID, "event is stored even when a notifier fails")
	require.JSONEq(t, `{}`, string(ev.Payload))
}
