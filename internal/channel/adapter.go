package channel

import "context"

// Known channel identifiers.
const (
	SMS      = "sms"
	RCS      = "rcs"
	IMessage = "imessage"
	Email    = "email"
)

type Status int

const (
	// StatusAccepted means the channel took the message for delivery.
	StatusAccepted Status = iota
	// StatusRejected is a permanent refusal (bad recipient, policy).
	StatusRejected
	// StatusTransientFailure is a temporary condition worth retrying.
	StatusTransientFailure
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusTransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// Result of one delivery attempt. Reason is kept for diagnostics; the
// pipeline treats rejections and transient failures identically.
type Result struct {
	Status Status
	Reason string
}

// Delivered reports whether the attempt succeeded.
func (r Result) Delivered() bool {
	return r.Status == StatusAccepted
}

// Adapter attempts delivery over one channel. Adapters are stateless from
// the pipeline's point of view; retry logic lives entirely outside them.
type Adapter interface {
	AttemptDelivery(ctx context.Context, recipient, body string) Result
}
