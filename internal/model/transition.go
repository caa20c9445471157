package model

import (
	"errors"
	"fmt"
	"time"
)

// Event drives the message lifecycle.
type Event string

const (
	EventRoute    Event = "route"
	EventBlocked  Event = "blocked"
	EventOK       Event = "ok"
	EventSend     Event = "send"
	EventSuccess  Event = "success"
	EventError    Event = "error"
	EventConfirm  Event = "confirm"
	EventTimeout  Event = "timeout"
	EventRetry    Event = "retry"
	EventFallback Event = "fallback"
	EventReroute  Event = "reroute"
)

// ErrIllegalTransition is returned when an event is not declared for the
// message's current state, or a guard on a declared event does not hold.
// The message is never mutated in that case.
var ErrIllegalTransition = errors.New("illegal transition")

// Next is the pure transition function. Every (state, event) pair outside
// the declared table fails with ErrIllegalTransition.
//
//	Drafted → Routing → {Blocked | Queued} → Sending → {Sent → Confirmed | Failed}
//	Failed → {Queued (retry) | Fallback}; Fallback → Queued
func Next(s State, e Event) (State, error) {
	switch s {
	case StateDrafted:
		if e == EventRoute {
			return StateRouting, nil
		}
	case StateRouting:
		switch e {
		case EventBlocked:
			return StateBlocked, nil
		case EventOK:
			return StateQueued, nil
		}
	case StateQueued:
		if e == EventSend {
			return StateSending, nil
		}
	case StateSending:
		switch e {
		case EventSuccess:
			return StateSent, nil
		case EventError:
			return StateFailed, nil
		}
	case StateSent:
		switch e {
		case EventConfirm, EventTimeout:
			// timeout is optimistic confirmation, not a failure.
			return StateConfirmed, nil
		}
	case StateFailed:
		switch e {
		case EventRetry:
			return StateQueued, nil
		case EventFallback:
			return StateFallback, nil
		}
	case StateFallback:
		if e == EventReroute {
			return StateQueued, nil
		}
	case StateBlocked, StateConfirmed:
		// Terminal, no events accepted.
	}
	return "", fmt.Errorf("%w: event %q from state %q", ErrIllegalTransition, e, s)
}

// Apply advances m through event e, enforcing the guards and performing the
// declared side effects. On error m is left completely untouched.
//
// Guards:
//   - retry only while attempts < maxAttempts
//   - fallback only once attempts >= maxAttempts
//   - reroute only with a remaining fallback channel
func Apply(m *Message, e Event) error {
	next, err := Next(m.State, e)
	if err != nil {
		return err
	}

	switch e {
	case EventRetry:
		if m.Attempts >= m.MaxAttempts {
			return fmt.Errorf("%w: retry after %d/%d attempts", ErrIllegalTransition, m.Attempts, m.MaxAttempts)
		}
	case EventFallback:
		if m.Attempts < m.MaxAttempts {
			return fmt.Errorf("%w: fallback with %d/%d attempts remaining", ErrIllegalTransition, m.Attempts, m.MaxAttempts)
		}
	case EventReroute:
		if len(m.FallbackChannels) == 0 {
			return fmt.Errorf("%w: reroute with no fallback channels", ErrIllegalTransition)
		}
	}

	now := time.Now().UTC()
	switch e {
	case EventError:
		m.Attempts++
	case EventSuccess:
		m.SentAt = &now
		m.LastError = ""
	case EventConfirm, EventTimeout:
		m.ConfirmedAt = &now
	case EventReroute:
		m.Channel = m.FallbackChannels[0]
		m.FallbackChannels = m.FallbackChannels[1:]
		m.Attempts = 0
	}

	m.State = next
	return nil
}
