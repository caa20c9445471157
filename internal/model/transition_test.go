package model

import (
	"errors"
	"reflect"
	"testing"
)

func TestNext_DeclaredTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from  State
		event Event
		to    State
	}{
		{StateDrafted, EventRoute, StateRouting},
		{StateRouting, EventBlocked, StateBlocked},
		{StateRouting, EventOK, StateQueued},
		{StateQueued, EventSend, StateSending},
		{StateSending, EventSuccess, StateSent},
		{StateSending, EventError, StateFailed},
		{StateSent, EventConfirm, StateConfirmed},
		{StateSent, EventTimeout, StateConfirmed},
		{StateFailed, EventRetry, StateQueued},
		{StateFailed, EventFallback, StateFallback},
		{StateFallback, EventReroute, StateQueued},
	}

	for _, tc := range cases {
		got, err := Next(tc.from, tc.event)
		if err != nil {
			t.Fatalf("Next(%s, %s) error: %v", tc.from, tc.event, err)
		}
		if got != tc.to {
			t.Fatalf("Next(%s, %s) = %s, want %s", tc.from, tc.event, got, tc.to)
		}
	}
}

func TestNext_UndeclaredPairsRejected(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from  State
		event Event
	}{
		{StateDrafted, EventSend},
		{StateQueued, EventSuccess},
		{StateSending, EventConfirm},
		{StateBlocked, EventRoute},
		{StateConfirmed, EventRetry},
		{StateSent, EventError},
		{StateFallback, EventFallback},
	}

	for _, tc := range cases {
		if _, err := Next(tc.from, tc.event); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("Next(%s, %s): expected ErrIllegalTransition, got %v", tc.from, tc.event, err)
		}
	}
}

func TestApply_IllegalEventLeavesMessageUntouched(t *testing.T) {
	t.Parallel()

	m := New("m1", "+1555", "hi", 2)
	m.Channel = "sms"
	m.FallbackChannels = []string{"email"}
	m.State = StateSending
	m.Attempts = 1
	m.LastError = "boom"

	before := *m
	beforeFallbacks := append([]string(nil), m.FallbackChannels...)

	if err := Apply(m, EventConfirm); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	if m.State != before.State || m.Attempts != before.Attempts ||
		m.Channel != before.Channel || m.LastError != before.LastError {
		t.Fatalf("message mutated by rejected event: before=%+v after=%+v", before, *m)
	}
	if !reflect.DeepEqual(m.FallbackChannels, beforeFallbacks) {
		t.Fatalf("fallback channels mutated by rejected event: %v", m.FallbackChannels)
	}
}

func TestApply_ErrorIncrementsAttempts(t *testing.T) {
	t.Parallel()

	m := New("m1", "+1555", "hi", 3)
	m.State = StateSending
	m.LastError = "timeout talking to gateway"

	if err := Apply(m, EventError); err != nil {
		t.Fatalf("Apply(error): %v", err)
	}
	if m.State != StateFailed {
		t.Fatalf("expected state failed, got %s", m.State)
	}
	if m.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", m.Attempts)
	}
}

func TestApply_SuccessClearsLastErrorAndStampsSentAt(t *testing.T) {
	t.Parallel()

	m := New("m1", "+1555", "hi", 3)
	m.State = StateSending
	m.LastError = "previous failure"

	if err := Apply(m, EventSuccess); err != nil {
		t.Fatalf("Apply(success): %v", err)
	}
	if m.State != StateSent {
		t.Fatalf("expected state sent, got %s", m.State)
	}
	if m.LastError != "" {
		t.Fatalf("expected lastError cleared, got %q", m.LastError)
	}
	if m.SentAt == nil {
		t.Fatalf("expected SentAt to be stamped")
	}
}

func TestApply_RetryGuard(t *testing.T) {
	t.Parallel()

	m := New("m1", "+1555", "hi", 2)
	m.State = StateFailed
	m.Attempts = 2

	if err := Apply(m, EventRetry); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected retry rejected at attempt ceiling, got %v", err)
	}
	if m.State != StateFailed {
		t.Fatalf("state mutated by rejected retry: %s", m.State)
	}

	m.Attempts = 1
	if err := Apply(m, EventRetry); err != nil {
		t.Fatalf("Apply(retry) below ceiling: %v", err)
	}
	if m.State != StateQueued {
		t.Fatalf("expected state queued after retry, got %s", m.State)
	}
}

func TestApply_FallbackGuard(t *testing.T) {
	t.Parallel()

	m := New("m1", "+1555", "hi", 2)
	m.State = StateFailed
	m.Attempts = 1

	if err := Apply(m, EventFallback); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected fallback rejected below attempt ceiling, got %v", err)
	}

	m.Attempts = 2
	if err := Apply(m, EventFallback); err != nil {
		t.Fatalf("Apply(fallback) at ceiling: %v", err)
	}
	if m.State != StateFallback {
		t.Fatalf("expected state fallback, got %s", m.State)
	}
}

func TestApply_RerouteRotatesChannelAndResetsAttempts(t *testing.T) {
	t.Parallel()

	m := New("m1", "+1555", "hi", 2)
	m.Channel = "sms"
	m.FallbackChannels = []string{"email", "rcs"}
	m.State = StateFallback
	m.Attempts = 2

	if err := Apply(m, EventReroute); err != nil {
		t.Fatalf("Apply(reroute): %v", err)
	}
	if m.State != StateQueued {
		t.Fatalf("expected state queued, got %s", m.State)
	}
	if m.Channel != "email" {
		t.Fatalf("expected channel email, got %s", m.Channel)
	}
	if m.Attempts != 0 {
		t.Fatalf("expected attempts reset to 0, got %d", m.Attempts)
	}
	if !reflect.DeepEqual(m.FallbackChannels, []string{"rcs"}) {
		t.Fatalf("expected fallback chain consumed front-to-back, got %v", m.FallbackChannels)
	}
}

func TestApply_RerouteWithoutFallbacksRejected(t *testing.T) {
	t.Parallel()

	m := New("m1", "+1555", "hi", 2)
	m.Channel = "sms"
	m.State = StateFallback
	m.Attempts = 2

	if err := Apply(m, EventReroute); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected reroute rejected with empty chain, got %v", err)
	}
	if m.Channel != "sms" || m.Attempts != 2 || m.State != StateFallback {
		t.Fatalf("message mutated by rejected reroute: %+v", *m)
	}
}

func TestApply_TimeoutIsOptimisticConfirmation(t *testing.T) {
	t.Parallel()

	m := New("m1", "+1555", "hi", 2)
	m.State = StateSent

	if err := Apply(m, EventTimeout); err != nil {
		t.Fatalf("Apply(timeout): %v", err)
	}
	if m.State != StateConfirmed {
		t.Fatalf("expected state confirmed, got %s", m.State)
	}
	if m.ConfirmedAt == nil {
		t.Fatalf("expected ConfirmedAt to be stamped")
	}
}

func TestTerminalStates(t *testing.T) {
	t.Parallel()

	if !StateBlocked.Terminal() || !StateConfirmed.Terminal() {
		t.Fatalf("blocked and confirmed must be terminal")
	}
	for _, s := range []State{StateDrafted, StateRouting, StateQueued, StateSending, StateSent, StateFailed, StateFallback} {
		if s.Terminal() {
			t.Fatalf("state %s unexpectedly terminal", s)
		}
	}
}
