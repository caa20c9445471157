package queue

import (
	"context"
	"time"
)

// Queue is an ordered work queue of message ids.
type Queue interface {
	Push(ctx context.Context, messageID string) error

	// Pop blocks up to timeout for the next id. An empty queue yields
	// ("", nil) after the timeout; that is normal, not an error.
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}
