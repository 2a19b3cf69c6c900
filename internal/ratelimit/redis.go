package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript counts and stamps the expiry in one atomic round trip. The
// expiry is aligned to the wall-clock window boundary passed in ARGV[1] so
// counters reset exactly when the window rolls over.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// RedisCounterStore implements CounterStore on Redis.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates a RedisCounterStore.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Incr atomically increments the window counter for key.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	remaining := untilBoundary(time.Now().UTC(), window)

	res, err := incrScript.Run(ctx, s.client, []string{key}, remaining.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit incr %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("rate limit incr %s: unexpected script reply %v", key, res)
	}
	count, ok := res[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("rate limit incr %s: non-integer count %T", key, res[0])
	}
	ttlMillis, ok := res[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("rate limit incr %s: non-integer ttl %T", key, res[1])
	}
	return count, time.Duration(ttlMillis) * time.Millisecond, nil
}

// untilBoundary returns the time left until the current fixed window ends.
func untilBoundary(now time.Time, window time.Duration) time.Duration {
	boundary := now.Truncate(window).Add(window)
	return boundary.Sub(now)
}

var _ CounterStore = (*RedisCounterStore)(nil)
