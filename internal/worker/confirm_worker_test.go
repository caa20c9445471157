package worker

import (
	"context"
	"testing"
	"time"

	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/receipt"
	"github.com/courierhq/courier/internal/store"
)

func (p *pipeline) confirmWorker(t *testing.T, cfg ConfirmConfig) *ConfirmWorker {
	t.Helper()

	if cfg.PopTimeout == 0 {
		cfg.PopTimeout = 100 * time.Millisecond
	}
	return NewConfirmWorker(p.store, p.locks, p.confirm, p.rechecks, p.receipts, cfg)
}

// seedSent persists a message in the post-send state awaiting confirmation.
func (p *pipeline) seedSent(t *testing.T, id string, sentAt time.Time) {
	t.Helper()

	p.seed(t, id, "sms", nil, 3)

	ctx := context.Background()
	sent := model.StateSent
	if err := p.store.Update(ctx, id, store.Patch{State: &sent, SentAt: &sentAt}); err != nil {
		t.Fatalf("seedSent Update() error: %v", err)
	}
}

func TestConfirmWorker_ReceiptConfirms(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	ctx := context.Background()

	p.seedSent(t, "m-1", time.Now())
	if err := p.receipts.Record(ctx, "m-1", receipt.StatusReceived); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	var confirmed []*model.Message
	w := p.confirmWorker(t, ConfirmConfig{}).WithHooks(func(_ context.Context, m *model.Message) {
		confirmed = append(confirmed, m)
	})
	if err := w.processOne(ctx, "m-1"); err != nil {
		t.Fatalf("processOne() error: %v", err)
	}

	m := p.mustGet(t, "m-1")
	if m.State != model.StateConfirmed {
		t.Fatalf("expected confirmed, got %s", m.State)
	}
	if m.ConfirmedAt == nil {
		t.Fatalf("expected confirmedAt stamped")
	}
	if len(confirmed) != 1 || confirmed[0].ID != "m-1" {
		t.Fatalf("expected confirmation hook for m-1, got %v", confirmed)
	}
}

func TestConfirmWorker_PendingInsideWindowRechecks(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	ctx := context.Background()

	p.seedSent(t, "m-1", time.Now())

	w := p.confirmWorker(t, ConfirmConfig{Window: time.Hour, Recheck: 10 * time.Second})
	if err := w.processOne(ctx, "m-1"); err != nil {
		t.Fatalf("processOne() error: %v", err)
	}

	if m := p.mustGet(t, "m-1"); m.State != model.StateSent {
		t.Fatalf("pending message inside the window must stay sent, got %s", m.State)
	}

	notYet, err := p.rechecks.DrainDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("DrainDue(now) error: %v", err)
	}
	if len(notYet) != 0 {
		t.Fatalf("recheck due immediately, delay not applied: %v", notYet)
	}
	due, err := p.rechecks.DrainDue(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("DrainDue() error: %v", err)
	}
	if len(due) != 1 || due[0] != "m-1" {
		t.Fatalf("expected m-1 scheduled for recheck, got %v", due)
	}
}

func TestConfirmWorker_WindowLapseConfirmsOptimistically(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	ctx := context.Background()

	p.seedSent(t, "m-1", time.Now())

	w := p.confirmWorker(t, ConfirmConfig{Window: 2 * time.Minute})
	w.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

	if err := w.processOne(ctx, "m-1"); err != nil {
		t.Fatalf("processOne() error: %v", err)
	}

	m := p.mustGet(t, "m-1")
	if m.State != model.StateConfirmed {
		t.Fatalf("expected optimistic confirmation, got %s", m.State)
	}
	if m.ConfirmedAt == nil {
		t.Fatalf("expected confirmedAt stamped")
	}
}

func TestConfirmWorker_ExpiredReceiptConfirmsOptimistically(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	ctx := context.Background()

	p.seedSent(t, "m-1", time.Now())
	if err := p.receipts.Record(ctx, "m-1", receipt.StatusExpired); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	w := p.confirmWorker(t, ConfirmConfig{Window: time.Hour})
	if err := w.processOne(ctx, "m-1"); err != nil {
		t.Fatalf("processOne() error: %v", err)
	}

	if m := p.mustGet(t, "m-1"); m.State != model.StateConfirmed {
		t.Fatalf("expected confirmed via expired receipt, got %s", m.State)
	}
}

func TestConfirmWorker_DropsStaleEntries(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	ctx := context.Background()

	// Still queued: an entry for it in the confirm queue is stale.
	p.seed(t, "m-1", "sms", nil, 3)

	w := p.confirmWorker(t, ConfirmConfig{})
	if err := w.processOne(ctx, "m-1"); err != nil {
		t.Fatalf("processOne() error: %v", err)
	}

	if m := p.mustGet(t, "m-1"); m.State != model.StateQueued {
		t.Fatalf("stale entry must not touch the message, got %s", m.State)
	}
	if due, _ := p.rechecks.DrainDue(ctx, time.Now().Add(time.Hour)); len(due) != 0 {
		t.Fatalf("stale entry must not be rescheduled, got %v", due)
	}
}

func TestConfirmWorker_SkipsLockedMessage(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	ctx := context.Background()

	p.seedSent(t, "m-1", time.Now())
	if _, err := p.locks.Acquire(ctx, "m-1", time.Minute); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	w := p.confirmWorker(t, ConfirmConfig{})
	if err := w.processOne(ctx, "m-1"); err != nil {
		t.Fatalf("contention must not be an error, got %v", err)
	}
	if m := p.mustGet(t, "m-1"); m.State != model.StateSent {
		t.Fatalf("locked message must stay untouched, got %s", m.State)
	}
}
