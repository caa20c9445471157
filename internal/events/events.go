package events

import (
	"context"
	"time"

	"github.com/courierhq/courier/internal/model"
)

// Event is the notification emitted when a message reaches a terminal
// state. Downstream consumers (billing, analytics, alerting) subscribe to
// these instead of polling the store.
type Event struct {
	MessageID  string    `json:"message_id"`
	Recipient  string    `json:"recipient"`
	Channel    string    `json:"channel"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FromMessage snapshots m into an event.
func FromMessage(m *model.Message) Event {
	return Event{
		MessageID:  m.ID,
		Recipient:  m.Recipient,
		Channel:    m.Channel,
		State:      string(m.State),
		Attempts:   m.Attempts,
		LastError:  m.LastError,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher fans terminal-state events out to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
