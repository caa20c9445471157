package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "lock:msg:"

// Compare-and-delete so only the token holder can release. A plain DEL
// would let a worker whose lease expired delete a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocks implements Manager with SET NX EX leases.
type RedisLocks struct {
	rdb *redis.Client
}

var _ Manager = (*RedisLocks)(nil)

func NewRedisLocks(rdb *redis.Client) *RedisLocks {
	return &RedisLocks{rdb: rdb}
}

func lockKey(messageID string) string {
	return lockPrefix + messageID
}

func (l *RedisLocks) Acquire(ctx context.Context, messageID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, lockKey(messageID), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrAlreadyLocked
	}
	return token, nil
}

func (l *RedisLocks) Release(ctx context.Context, messageID, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{lockKey(messageID)}, token).Err()
}
