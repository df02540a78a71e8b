package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type captureEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	c.opts = append(c.opts, opts)
	if c.err != nil {
		return nil, c.err
	}
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

type recordingAbandoner struct {
	cartID string
	seenAt time.Time
	err    error
}

func (r *recordingAbandoner) Abandon(_ context.Context, id string, seenAt time.Time) error {
	r.cartID = id
	r.seenAt = seenAt
	return r.err
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) (any, bool) {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value(), true
		}
	}
	return nil, false
}

func TestScheduleAbandonEnqueuesDelayedTask(t *testing.T) {
	enq := &captureEnqueuer{}
	s := &Scheduler{Client: enq, After: 2 * time.Hour, Queue: "carts", MaxRetry: 3}
	seen := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, s.ScheduleAbandon(context.Background(), "cart-1", seen))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TypeCartAbandon, enq.tasks[0].Type())
	require.JSONEq(t, `{"cart_id":"cart-1","seen_at":"2026-02-03T04:05:06Z"}`, string(enq.tasks[0].Payload()))

	delay, ok := optionValue(enq.opts[0], asynq.ProcessInOpt)
	require.True(t, ok)
	require.Equal(t, 2*time.Hour, delay)
	id, ok := optionValue(enq.opts[0], asynq.TaskIDOpt)
	require.True(t, ok)
	require.Contains(t, id, "abandon:cart-1:")
	queue, ok := optionValue(enq.opts[0], asynq.QueueOpt)
	require.True(t, ok)
	require.Equal(t, "carts", queue)
}

func TestScheduleAbandonIgnoresDuplicates(t *testing.T) {
	s := &Scheduler{Client: &captureEnqueuer{err: asynq.ErrTaskIDConflict}, After: time.Minute}
	require.NoError(t, s.ScheduleAbandon(context.Background(), "cart-1", time.Now()))

	s.Client = &captureEnqueuer{err: errors.New("redis down")}
	require.Error(t, s.ScheduleAbandon(context.Background(), "cart-1", time.Now()))
}

func TestScheduleAbandonDisabled(t *testing.T) {
	enq := &captureEnqueuer{}
	s := &Scheduler{Client: enq}
	require.NoError(t, s.ScheduleAbandon(context.Background(), "cart-1", time.Now()))
	require.Empty(t, enq.tasks)

	var nilScheduler *Scheduler
	require.NoError(t, nilScheduler.ScheduleAbandon(context.Background(), "cart-1", time.Now()))
}

func TestAbandonHandler(t *testing.T) {
	carts := &recordingAbandoner{}
	h := AbandonHandler{Carts: carts}
	seen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	task, err := NewAbandonTask("cart-7", seen)
	require.NoError(t, err)

	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Equal(t, "cart-7", carts.cartID)
	require.True(t, seen.Equal(carts.seenAt))

	carts.err = errors.New("redis down")
	require.Error(t, h.ProcessTask(context.Background(), task))

	bad := asynq.NewTask(TypeCartAbandon, []byte(`{}`))
	require.ErrorIs(t, h.ProcessTask(context.Background(), bad), asynq.SkipRetry)
}
