package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/blocklist"
	"github.com/courierhq/courier/internal/channel"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/store"
)

var (
	ErrInvalidChannel = errors.New("unrecognized channel")
	ErrEmptyRecipient = errors.New("recipient must not be empty")
	ErrEmptyBody      = errors.New("body must not be empty")
)

// Request is a drafted message handed over by the orchestration boundary.
// Body is an opaque payload; drafting happens upstream.
type Request struct {
	Recipient        string
	Body             string
	Channel          string
	FallbackChannels []string
	MaxAttempts      int
}

// Service runs a message from Drafted through routing and, unless it is
// blocked, into the send queue.
type Service struct {
	store     store.Store
	ready     queue.Queue
	registry  *channel.Registry
	blocklist blocklist.Blocklist

	onBlocked func(ctx context.Context, m *model.Message)
}

func New(st store.Store, ready queue.Queue, reg *channel.Registry, bl blocklist.Blocklist) *Service {
	return &Service{
		store:     st,
		ready:     ready,
		registry:  reg,
		blocklist: bl,
	}
}

// WithHooks registers a callback fired when routing blocks a message.
func (s *Service) WithHooks(onBlocked func(ctx context.Context, m *model.Message)) *Service {
	s.onBlocked = onBlocked
	return s
}

// Enqueue validates the request, routes the message and queues it for
// sending. A blocked recipient still yields an id: the message is persisted
// in its terminal Blocked state for the audit trail.
func (s *Service) Enqueue(ctx context.Context, req Request) (string, error) {
	if req.Recipient == "" {
		return "", ErrEmptyRecipient
	}
	if req.Body == "" {
		return "", ErrEmptyBody
	}
	if !s.registry.Known(req.Channel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, req.Channel)
	}
	for _, fb := range req.FallbackChannels {
		if !s.registry.Known(fb) {
			return "", fmt.Errorf("%w: fallback %q", ErrInvalidChannel, fb)
		}
	}

	m := model.New(uuid.NewString(), req.Recipient, req.Body, req.MaxAttempts)
	m.FallbackChannels = append([]string(nil), req.FallbackChannels...)

	if err := model.Apply(m, model.EventRoute); err != nil {
		return "", err
	}

	blocked, err := s.blocklist.Contains(ctx, req.Recipient)
	if err != nil {
		return "", fmt.Errorf("blocklist check: %w", err)
	}

	if blocked {
		if err := model.Apply(m, model.EventBlocked); err != nil {
			return "", err
		}
		m.LastError = "recipient is blocked"
		if err := s.store.Create(ctx, m); err != nil {
			return "", err
		}
		slog.Info("message blocked", "message_id", m.ID, "channel", req.Channel)
		if s.onBlocked != nil {
			s.onBlocked(ctx, m)
		}
		return m.ID, nil
	}

	m.Channel = req.Channel
	if err := model.Apply(m, model.EventOK); err != nil {
		return "", err
	}

	if err := s.store.Create(ctx, m); err != nil {
		return "", err
	}
	if err := s.ready.Push(ctx, m.ID); err != nil {
		return "", fmt.Errorf("push to send queue: %w", err)
	}

	slog.Info("message enqueued",
		"message_id", m.ID,
		"channel", m.Channel,
		"fallbacks", len(m.FallbackChannels),
		"max_attempts", m.MaxAttempts,
	)
	return m.ID, nil
}
