package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const receiptPrefix = "receipt:"

// RedisSource reads receipt signals the device gateways write under
// receipt:{id}. An absent key is a pending receipt.
type RedisSource struct {
	rdb *redis.Client
	ttl time.Duration
}

var (
	_ Source   = (*RedisSource)(nil)
	_ Recorder = (*RedisSource)(nil)
)

// NewRedisSource returns a source backed by rdb. ttl bounds how long a
// recorded receipt is kept around.
func NewRedisSource(rdb *redis.Client, ttl time.Duration) *RedisSource {
	return &RedisSource{rdb: rdb, ttl: ttl}
}

func receiptKey(messageID string) string {
	return receiptPrefix + messageID
}

func (s *RedisSource) Poll(ctx context.Context, messageID string) (Status, error) {
	val, err := s.rdb.Get(ctx, receiptKey(messageID)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusPending, nil
	}
	if err != nil {
		return StatusPending, err
	}

	switch val {
	case "received":
		return StatusReceived, nil
	case "expired":
		return StatusExpired, nil
	default:
		return StatusPending, fmt.Errorf("unrecognized receipt value %q for %s", val, messageID)
	}
}

// Record stores a receipt signal. Gateways call this through the API when
// they observe a delivery report.
func (s *RedisSource) Record(ctx context.Context, messageID string, status Status) error {
	var val string
	switch status {
	case StatusReceived:
		val = "received"
	case StatusExpired:
		val = "expired"
	default:
		return fmt.Errorf("cannot record receipt status %q", status)
	}
	return s.rdb.Set(ctx, receiptKey(messageID), val, s.ttl).Err()
}
