package intake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/courierhq/courier/internal/blocklist"
	"github.com/courierhq/courier/internal/channel"
	"github.com/courierhq/courier/internal/intake"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/store"
)

type acceptAll struct{}

func (acceptAll) AttemptDelivery(context.Context, string, string) channel.Result {
	return channel.Result{Status: channel.StatusAccepted}
}

type fixture struct {
	svc   *intake.Service
	store store.Store
	ready *queue.RedisQueue
	block *blocklist.RedisBlocklist
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	reg := channel.NewRegistry()
	reg.Register(channel.SMS, acceptAll{})
	reg.Register(channel.Email, acceptAll{})

	st := store.NewRedisStore(rdb, 0)
	ready := queue.NewRedisQueue(rdb, "queue:send")
	bl := blocklist.NewRedisBlocklist(rdb)

	return fixture{
		svc:   intake.New(st, ready, reg, bl),
		store: st,
		ready: ready,
		block: bl,
	}
}

func TestEnqueue_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Enqueue(ctx, intake.Request{
		Recipient:        "+1555",
		Body:             "hi",
		Channel:          channel.SMS,
		FallbackChannels: []string{channel.Email},
		MaxAttempts:      1,
	})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a message id")
	}

	m, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if m.State != model.StateQueued {
		t.Fatalf("expected state queued, got %s", m.State)
	}
	if m.Channel != channel.SMS {
		t.Fatalf("expected channel assigned during routing, got %q", m.Channel)
	}
	if len(m.FallbackChannels) != 1 || m.FallbackChannels[0] != channel.Email {
		t.Fatalf("unexpected fallback channels: %v", m.FallbackChannels)
	}

	queued, err := f.ready.Pop(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Pop() error: %v", err)
	}
	if queued != id {
		t.Fatalf("expected %q in send queue, got %q", id, queued)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  intake.Request
		want error
	}{
		{"empty recipient", intake.Request{Body: "hi", Channel: channel.SMS}, intake.ErrEmptyRecipient},
		{"empty body", intake.Request{Recipient: "+1555", Channel: channel.SMS}, intake.ErrEmptyBody},
		{"unknown channel", intake.Request{Recipient: "+1555", Body: "hi", Channel: "fax"}, intake.ErrInvalidChannel},
		{"unknown fallback", intake.Request{
			Recipient: "+1555", Body: "hi", Channel: channel.SMS,
			FallbackChannels: []string{"fax"},
		}, intake.ErrInvalidChannel},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Enqueue(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("Enqueue() error = %v, want %v", err, tc.want)
			}
		})
	}

	// Nothing may have reached the queue.
	if got, _ := f.ready.Pop(ctx, 50*time.Millisecond); got != "" {
		t.Fatalf("rejected requests must not be queued, got %q", got)
	}
}

func TestEnqueue_BlockedRecipientIsTerminalAndNeverQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if err := f.block.Add(ctx, "+1555"); err != nil {
		t.Fatalf("blocklist Add() error: %v", err)
	}

	var hookCalled bool
	f.svc.WithHooks(func(ctx context.Context, m *model.Message) {
		hookCalled = true
		if m.State != model.StateBlocked {
			t.Errorf("hook saw state %s, want blocked", m.State)
		}
	})

	id, err := f.svc.Enqueue(ctx, intake.Request{
		Recipient: "+1555",
		Body:      "hi",
		Channel:   channel.SMS,
	})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	m, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if m.State != model.StateBlocked {
		t.Fatalf("expected terminal blocked state, got %s", m.State)
	}
	if !hookCalled {
		t.Fatalf("expected blocked hook to fire")
	}

	if got, _ := f.ready.Pop(ctx, 50*time.Millisecond); got != "" {
		t.Fatalf("blocked message must not reach the send queue, got %q", got)
	}
}

func TestEnqueue_DefaultMaxAttempts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Enqueue(ctx, intake.Request{
		Recipient: "user@example.com",
		Body:      "hi",
		Channel:   channel.Email,
	})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	m, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if m.MaxAttempts != model.DefaultMaxAttempts {
		t.Fatalf("expected default maxAttempts %d, got %d", model.DefaultMaxAttempts, m.MaxAttempts)
	}
}
