package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/courierhq/courier/internal/channel"
	"github.com/courierhq/courier/internal/lock"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/policy"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/store"
)

// SendConfig tunes one send worker.
type SendConfig struct {
	// PopTimeout bounds how long a queue pop may block.
	PopTimeout time.Duration
	// LockTTL is the per-message lease duration. A worker that dies
	// mid-send simply lets the lease lapse.
	LockTTL time.Duration
	// PauseMin/PauseMax bound the randomized pause before each send.
	// A zero range disables the pause.
	PauseMin time.Duration
	PauseMax time.Duration
}

// SendWorker pulls ready message ids, locks them, attempts delivery and
// advances their state. Any number of send workers can run concurrently;
// the per-message lease keeps them off each other's messages.
type SendWorker struct {
	store    store.Store
	locks    lock.Manager
	ready    queue.Queue
	confirm  queue.Queue
	retries  *queue.DelaySet
	registry *channel.Registry
	policy   *policy.Policy
	cfg      SendConfig

	onFailed func(ctx context.Context, m *model.Message)
}

func NewSendWorker(
	st store.Store,
	locks lock.Manager,
	ready, confirm queue.Queue,
	retries *queue.DelaySet,
	registry *channel.Registry,
	pol *policy.Policy,
	cfg SendConfig,
) *SendWorker {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &SendWorker{
		store:    st,
		locks:    locks,
		ready:    ready,
		confirm:  confirm,
		retries:  retries,
		registry: registry,
		policy:   pol,
		cfg:      cfg,
	}
}

// WithHooks registers a callback fired when a message fails terminally.
func (w *SendWorker) WithHooks(onFailed func(ctx context.Context, m *model.Message)) *SendWorker {
	w.onFailed = onFailed
	return w
}

// Run loops until ctx is cancelled.
func (w *SendWorker) Run(ctx context.Context) {
	slog.Info("send worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("send worker stopping")
			return
		default:
		}

		id, err := w.ready.Pop(ctx, w.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("send worker stopping")
				return
			}
			slog.Error("send queue pop failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if id == "" {
			continue
		}

		if err := w.processOne(ctx, id); err != nil {
			slog.Error("send cycle failed", "message_id", id, "error", err)
		}
	}
}

func (w *SendWorker) processOne(ctx context.Context, id string) error {
	token, err := w.locks.Acquire(ctx, id, w.cfg.LockTTL)
	if errors.Is(err, lock.ErrAlreadyLocked) {
		// Another worker owns this message; not an error.
		slog.Debug("message locked elsewhere, skipping", "message_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if rerr := w.locks.Release(ctx, id, token); rerr != nil {
			slog.Warn("lock release failed", "message_id", id, "error", rerr)
		}
	}()

	m, err := w.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		// Expired or deleted between queueing and processing.
		slog.Warn("queued message no longer exists", "message_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}

	if err := model.Apply(m, model.EventSend); err != nil {
		// Already handled elsewhere (duplicate queue entry, terminal state).
		// The message is untouched; leave it alone.
		slog.Warn("message not sendable", "message_id", id, "state", m.State, "error", err)
		return nil
	}
	if err := w.store.Update(ctx, id, store.Patch{State: &m.State}); err != nil {
		return fmt.Errorf("persist sending state: %w", err)
	}

	if err := w.pause(ctx); err != nil {
		return err
	}

	res := w.attempt(ctx, m)
	if res.Delivered() {
		return w.completeSend(ctx, m)
	}
	return w.handleFailure(ctx, m, res)
}

func (w *SendWorker) attempt(ctx context.Context, m *model.Message) channel.Result {
	adapter, ok := w.registry.Get(m.Channel)
	if !ok {
		// Channels are validated at intake; losing one mid-flight means a
		// deploy removed it. Funnel through the normal failure path.
		return channel.Result{
			Status: channel.StatusTransientFailure,
			Reason: fmt.Sprintf("no adapter registered for channel %q", m.Channel),
		}
	}
	return adapter.AttemptDelivery(ctx, m.Recipient, m.Body)
}

func (w *SendWorker) completeSend(ctx context.Context, m *model.Message) error {
	if err := model.Apply(m, model.EventSuccess); err != nil {
		return err
	}
	if err := w.store.Update(ctx, m.ID, store.Patch{
		State:     &m.State,
		LastError: &m.LastError,
		SentAt:    m.SentAt,
	}); err != nil {
		return fmt.Errorf("persist sent state: %w", err)
	}
	if err := w.confirm.Push(ctx, m.ID); err != nil {
		return fmt.Errorf("push to confirm queue: %w", err)
	}
	slog.Info("message sent", "message_id", m.ID, "channel", m.Channel)
	return nil
}

func (w *SendWorker) handleFailure(ctx context.Context, m *model.Message, res channel.Result) error {
	m.LastError = res.Reason
	if err := model.Apply(m, model.EventError); err != nil {
		return err
	}

	d := w.policy.Decide(m.Attempts, m.MaxAttempts, len(m.FallbackChannels))
	slog.Warn("delivery attempt failed",
		"message_id", m.ID,
		"channel", m.Channel,
		"attempt", m.Attempts,
		"max_attempts", m.MaxAttempts,
		"status", res.Status.String(),
		"next", d.Action.String(),
		"reason", res.Reason,
	)

	switch d.Action {
	case policy.ActionRetry:
		if err := model.Apply(m, model.EventRetry); err != nil {
			return err
		}
		if err := w.store.Update(ctx, m.ID, store.Patch{
			State:     &m.State,
			Attempts:  &m.Attempts,
			LastError: &m.LastError,
		}); err != nil {
			return fmt.Errorf("persist retry state: %w", err)
		}
		if err := w.retries.Schedule(ctx, m.ID, time.Now().Add(d.Delay)); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		return nil

	case policy.ActionFallback:
		if err := model.Apply(m, model.EventFallback); err != nil {
			return err
		}
		exhausted := m.Channel
		if err := model.Apply(m, model.EventReroute); err != nil {
			return err
		}
		if err := w.store.Update(ctx, m.ID, store.Patch{
			State:            &m.State,
			Channel:          &m.Channel,
			Attempts:         &m.Attempts,
			FallbackChannels: &m.FallbackChannels,
			LastError:        &m.LastError,
		}); err != nil {
			return fmt.Errorf("persist fallback state: %w", err)
		}
		if err := w.ready.Push(ctx, m.ID); err != nil {
			return fmt.Errorf("requeue after fallback: %w", err)
		}
		slog.Info("message rerouted", "message_id", m.ID, "from", exhausted, "to", m.Channel)
		return nil

	default: // policy.ActionFail
		if err := w.store.Update(ctx, m.ID, store.Patch{
			State:     &m.State,
			Attempts:  &m.Attempts,
			LastError: &m.LastError,
		}); err != nil {
			return fmt.Errorf("persist failed state: %w", err)
		}
		slog.Warn("message failed terminally",
			"message_id", m.ID,
			"channel", m.Channel,
			"attempts", m.Attempts,
			"last_error", m.LastError,
		)
		if w.onFailed != nil {
			w.onFailed(ctx, m)
		}
		return nil
	}
}

// pause waits a random interval inside the configured window, so bursts of
// sends do not look machine-gunned to the receiving side.
func (w *SendWorker) pause(ctx context.Context) error {
	if w.cfg.PauseMax <= 0 || w.cfg.PauseMax < w.cfg.PauseMin {
		return nil
	}
	d := w.cfg.PauseMin
	if span := w.cfg.PauseMax - w.cfg.PauseMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
