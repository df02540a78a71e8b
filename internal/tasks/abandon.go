package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypeCartAbandon is the asynq task type that marks idle carts abandoned.
const TypeCartAbandon = "cart:abandon"

// AbandonPayload identifies the cart revision the task was scheduled for.
type AbandonPayload struct {
	CartID string    `json:"cart_id"`
	SeenAt time.Time `json:"seen_at"`
}

// NewAbandonTask builds the task for cartID as last updated at seenAt.
func NewAbandonTask(cartID string, seenAt time.Time) (*asynq.Task, error) {
	if cartID == "" {
		return nil, errors.New("tasks: cart id is required")
	}
	payload, err := json.Marshal(AbandonPayload{CartID: cartID, SeenAt: seenAt.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCartAbandon, payload), nil
}

// Enqueuer is the subset of *asynq.Client used for scheduling.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues delayed abandonment checks.
type Scheduler struct {
	Client   Enqueuer
	After    time.Duration
	Queue    string
	MaxRetry int
}

// ScheduleAbandon enqueues an abandonment check that fires After from now.
// Scheduling the same cart revision twice is a no-op.
func (s *Scheduler) ScheduleAbandon(ctx context.Context, cartID string, seenAt time.Time) error {
	if s == nil || s.Client == nil || s.After <= 0 {
		return nil
	}
	task, err := NewAbandonTask(cartID, seenAt)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.ProcessIn(s.After),
		asynq.TaskID(fmt.Sprintf("abandon:%s:%d", cartID, seenAt.UnixNano())),
		asynq.Retention(time.Hour),
	}
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	if s.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxRetry))
	}
	if _, err := s.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", TypeCartAbandon, err)
	}
	return nil
}

// Abandoner transitions an idle cart to abandoned. Implementations treat a
// cart updated after seenAt as still active.
type Abandoner interface {
	Abandon(ctx context.Context, cartID string, seenAt time.Time) error
}

// AbandonHandler processes TypeCartAbandon tasks.
type AbandonHandler struct {
	Carts  Abandoner
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h AbandonHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p AbandonPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.CartID == "" {
		return fmt.Errorf("decode %s payload: %v: %w", TypeCartAbandon, err, asynq.SkipRetry)
	}
	logger := h.Logger.With().Str("task", TypeCartAbandon).Str("cart_id", p.CartID).Logger()
	if err := h.Carts.Abandon(logger.WithContext(ctx), p.CartID, p.SeenAt); err != nil {
		logger.Warn().Err(err).Msg("abandon cart failed")
		return err
	}
	logger.Debug().Msg("abandon check complete")
	return nil
}

// NewServeMux routes cart tasks to their handlers.
func NewServeMux(abandon AbandonHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeCartAbandon, abandon)
	return mux
}
