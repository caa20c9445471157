package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Atomic remove-then-return: a drained entry can never be handed to two
// concurrent sweeps.
var drainScript = redis.NewScript(`
local due = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1])
if #due > 0 then
	redis.call("zrem", KEYS[1], unpack(due))
end
return due
`)

// DelaySet holds message ids whose next processing attempt is due at a
// future time, as a sorted set scored by due time.
type DelaySet struct {
	rdb *redis.Client
	key string
}

func NewDelaySet(rdb *redis.Client, key string) *DelaySet {
	return &DelaySet{rdb: rdb, key: key}
}

// Schedule records (or moves) the id's due time.
func (d *DelaySet) Schedule(ctx context.Context, messageID string, notBefore time.Time) error {
	return d.rdb.ZAdd(ctx, d.key, redis.Z{
		Score:  float64(notBefore.UnixMilli()),
		Member: messageID,
	}).Err()
}

// DrainDue removes and returns every id due at or before now.
func (d *DelaySet) DrainDue(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)

	res, err := drainScript.Run(ctx, d.rdb, []string{d.key}, cutoff).StringSlice()
	if err != nil {
		return nil, err
	}
	return res, nil
}
