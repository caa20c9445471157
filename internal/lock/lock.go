package lock

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyLocked means another worker currently holds the lease. This is
// expected contention, not a defect; callers skip the message and move on.
var ErrAlreadyLocked = errors.New("message already locked")

// Manager hands out short-lived per-message leases. Leases auto-expire after
// their TTL, so a crashed holder never permanently strands a message.
type Manager interface {
	// Acquire returns a lease token, or ErrAlreadyLocked.
	Acquire(ctx context.Context, messageID string, ttl time.Duration) (string, error)

	// Release drops the lease identified by token. Releasing a lease that
	// already expired, or that another holder re-acquired, is a no-op.
	Release(ctx context.Context, messageID, token string) error
}
