package policy

import (
	"fmt"
	"time"
)

type Action int

const (
	// ActionRetry reschedules the same channel after Decision.Delay.
	ActionRetry Action = iota
	// ActionFallback rotates to the next fallback channel.
	ActionFallback
	// ActionFail is terminal: attempts and fallbacks are both exhausted.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFallback:
		return "fallback"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

type Decision struct {
	Action Action
	Delay  time.Duration
}

const (
	ModeFixed       = "fixed"
	ModeExponential = "exponential"
)

// Backoff configures how retry delays grow with the attempt count.
type Backoff struct {
	Mode string
	Base time.Duration
	Max  time.Duration
}

type Policy struct {
	backoff Backoff
}

func New(b Backoff) (*Policy, error) {
	if b.Mode != ModeFixed && b.Mode != ModeExponential {
		return nil, fmt.Errorf("unknown backoff mode %q", b.Mode)
	}
	if b.Base <= 0 {
		return nil, fmt.Errorf("backoff base must be > 0, got %v", b.Base)
	}
	if b.Max < b.Base {
		return nil, fmt.Errorf("backoff max %v must be >= base %v", b.Max, b.Base)
	}
	return &Policy{backoff: b}, nil
}

// Decide maps the outcome of a failed attempt to the next move. attempts is
// the count after the failure was recorded.
func (p *Policy) Decide(attempts, maxAttempts, remainingFallbacks int) Decision {
	if attempts < maxAttempts {
		return Decision{Action: ActionRetry, Delay: p.delay(attempts)}
	}
	if remainingFallbacks > 0 {
		return Decision{Action: ActionFallback}
	}
	return Decision{Action: ActionFail}
}

func (p *Policy) delay(attempts int) time.Duration {
	if p.backoff.Mode == ModeFixed {
		return p.backoff.Base
	}

	d := p.backoff.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.backoff.Max {
			return p.backoff.Max
		}
	}
	if d > p.backoff.Max {
		return p.backoff.Max
	}
	return d
}
