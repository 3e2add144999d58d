package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
)

// fixedWindowScript counts hits in the current window and starts the window
// on the first hit.
var fixedWindowScript = rueidis.NewLuaScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// windowMillis is the PEXPIRE argument for window. PEXPIRE 0 deletes the key,
// so windows under a millisecond round up.
func windowMillis(window time.Duration) int64 {
	return max(window.Milliseconds(), 1)
}

// checkBucketRedis shares the limit across gateway replicas. It counts in
// fixed windows rather than refilling tokens.
func (rl *RateLimiter) checkBucketRedis(ctx context.Context, key string, window time.Duration, limit int) (bool, error) {
	current, err := fixedWindowScript.Exec(ctx, rl.redisClient,
		[]string{key},
		[]string{strconv.FormatInt(windowMillis(window), 10)},
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}

	return current <= int64(limit), nil
}
