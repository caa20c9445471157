package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/courierhq/courier/internal/lock"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/receipt"
	"github.com/courierhq/courier/internal/store"
)

// ConfirmConfig tunes the confirmation consumer.
type ConfirmConfig struct {
	PopTimeout time.Duration
	LockTTL    time.Duration
	// Window is how long after the send a missing receipt is tolerated
	// before the message is optimistically confirmed.
	Window time.Duration
	// Recheck is the delay before a still-pending message is polled again.
	Recheck time.Duration
}

// ConfirmWorker closes out Sent messages: a positive receipt confirms them,
// and absence of one past the window confirms them optimistically. Channels
// with no receipt signal at all (plain SMS, email) always take the
// optimistic path. This path never re-enters the send pipeline.
type ConfirmWorker struct {
	store    store.Store
	locks    lock.Manager
	confirm  queue.Queue
	rechecks *queue.DelaySet
	receipts receipt.Source
	cfg      ConfirmConfig

	now func() time.Time

	onConfirmed func(ctx context.Context, m *model.Message)
}

func NewConfirmWorker(
	st store.Store,
	locks lock.Manager,
	confirm queue.Queue,
	rechecks *queue.DelaySet,
	receipts receipt.Source,
	cfg ConfirmConfig,
) *ConfirmWorker {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Minute
	}
	if cfg.Recheck <= 0 {
		cfg.Recheck = 10 * time.Second
	}
	return &ConfirmWorker{
		store:    st,
		locks:    locks,
		confirm:  confirm,
		rechecks: rechecks,
		receipts: receipts,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithHooks registers a callback fired when a message reaches Confirmed.
func (w *ConfirmWorker) WithHooks(onConfirmed func(ctx context.Context, m *model.Message)) *ConfirmWorker {
	w.onConfirmed = onConfirmed
	return w
}

// Run loops until ctx is cancelled.
func (w *ConfirmWorker) Run(ctx context.Context) {
	slog.Info("confirm worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("confirm worker stopping")
			return
		default:
		}

		id, err := w.confirm.Pop(ctx, w.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("confirm worker stopping")
				return
			}
			slog.Error("confirm queue pop failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if id == "" {
			continue
		}

		if err := w.processOne(ctx, id); err != nil {
			slog.Error("confirm cycle failed", "message_id", id, "error", err)
		}
	}
}

func (w *ConfirmWorker) processOne(ctx context.Context, id string) error {
	token, err := w.locks.Acquire(ctx, id, w.cfg.LockTTL)
	if errors.Is(err, lock.ErrAlreadyLocked) {
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
		slog.Warn("sent message no longer exists", "message_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}

	if m.State != model.StateSent {
		// A stale queue entry; drop it.
		slog.Debug("message not awaiting confirmation", "message_id", id, "state", m.State)
		return nil
	}

	status, err := w.receipts.Poll(ctx, id)
	if err != nil {
		slog.Warn("receipt poll failed", "message_id", id, "error", err)
		return w.recheckLater(ctx, id)
	}

	switch status {
	case receipt.StatusReceived:
		return w.finish(ctx, m, model.EventConfirm)
	case receipt.StatusExpired:
		// The channel gave up waiting for a receipt; treat like the window
		// lapsing.
		return w.finish(ctx, m, model.EventTimeout)
	default: // receipt.StatusPending
		if m.SentAt != nil && w.now().Sub(*m.SentAt) >= w.cfg.Window {
			return w.finish(ctx, m, model.EventTimeout)
		}
		return w.recheckLater(ctx, id)
	}
}

func (w *ConfirmWorker) finish(ctx context.Context, m *model.Message, ev model.Event) error {
	if err := model.Apply(m, ev); err != nil {
		return err
	}
	if err := w.store.Update(ctx, m.ID, store.Patch{
		State:       &m.State,
		ConfirmedAt: m.ConfirmedAt,
	}); err != nil {
		return fmt.Errorf("persist confirmed state: %w", err)
	}

	slog.Info("message confirmed", "message_id", m.ID, "channel", m.Channel, "via", string(ev))
	if w.onConfirmed != nil {
		w.onConfirmed(ctx, m)
	}
	return nil
}

func (w *ConfirmWorker) recheckLater(ctx context.Context, id string) error {
	if err := w.rechecks.Schedule(ctx, id, w.now().Add(w.cfg.Recheck)); err != nil {
		return fmt.Errorf("schedule confirmation recheck: %w", err)
	}
	return nil
}
