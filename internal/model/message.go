package model

import "time"

// State is the lifecycle state of a message. It is only ever changed
// through Apply; nothing else may assign it.
type State string

const (
	StateDrafted   State = "drafted"
	StateRouting   State = "routing"
	StateBlocked   State = "blocked"
	StateQueued    State = "queued"
	StateSending   State = "sending"
	StateSent      State = "sent"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateFallback  State = "fallback"
)

// Terminal reports whether no event is accepted from s. StateFailed is
// terminal only once the fallback chain is exhausted; that guard lives in
// Apply, not here.
func (s State) Terminal() bool {
	return s == StateBlocked || s == StateConfirmed
}

const DefaultMaxAttempts = 3

type Message struct {
	ID               string
	Recipient        string
	Body             string
	Channel          string
	FallbackChannels []string
	State            State
	Attempts         int
	MaxAttempts      int
	LastError        string
	CreatedAt        time.Time
	SentAt           *time.Time
	ConfirmedAt      *time.Time
}

// New returns a freshly drafted message. maxAttempts <= 0 selects the default.
func New(id, recipient, body string, maxAttempts int) *Message {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Message{
		ID:          id,
		Recipient:   recipient,
		Body:        body,
		State:       StateDrafted,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}
