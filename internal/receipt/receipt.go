package receipt

import "context"

// Status of a delivery receipt for one message.
type Status int

const (
	// StatusPending means no receipt signal has arrived yet.
	StatusPending Status = iota
	// StatusReceived means the channel reported the message delivered.
	StatusReceived
	// StatusExpired means the channel gave up waiting for a receipt.
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReceived:
		return "received"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Source exposes the adapter-specific receipt signal. Channels without one
// (plain SMS, email) simply stay Pending forever and rely on the optimistic
// confirmation timeout.
type Source interface {
	Poll(ctx context.Context, messageID string) (Status, error)
}

// Recorder ingests receipt signals reported by the gateways.
type Recorder interface {
	Record(ctx context.Context, messageID string, status Status) error
}

// ParseStatus maps a wire value onto a Status. Pending is not accepted; a
// gateway only reports the definite outcomes.
func ParseStatus(raw string) (Status, bool) {
	switch raw {
	case "received":
		return StatusReceived, true
	case "expired":
		return StatusExpired, true
	default:
		return StatusPending, false
	}
}
