package blocklist

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const setKey = "blocklist:recipients"

// Blocklist answers whether a recipient has opted out or been blocked.
// Consulted during routing, before a message can reach the send queue.
// Manager extends Blocklist with administration of the blocked set.
type Manager interface {
	Blocklist
	Add(ctx context.Context, recipient string) error
	Remove(ctx context.Context, recipient string) error
}

type Blocklist interface {
	Contains(ctx context.Context, recipient string) (bool, error)
}

// RedisBlocklist keeps blocked recipients in a Redis set.
type RedisBlocklist struct {
	rdb *redis.Client
}

var _ Manager = (*RedisBlocklist)(nil)

func NewRedisBlocklist(rdb *redis.Client) *RedisBlocklist {
	return &RedisBlocklist{rdb: rdb}
}

func (b *RedisBlocklist) Contains(ctx context.Context, recipient string) (bool, error) {
	return b.rdb.SIsMember(ctx, setKey, recipient).Result()
}

func (b *RedisBlocklist) Add(ctx context.Context, recipient string) error {
	return b.rdb.SAdd(ctx, setKey, recipient).Err()
}

func (b *RedisBlocklist) Remove(ctx context.Context, recipient string) error {
	return b.rdb.SRem(ctx, setKey, recipient).Err()
}
