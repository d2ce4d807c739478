package window

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"agentgate/pkg/platform/sentinel"
)

// incrementScript reads, compares and increments in one server-side step.
// Returns {count, admitted}.
var incrementScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return {current, 0}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {current, 1}
`)

// RedisStore implements ports.WindowStore with one Redis key per window.
// Keys expire with their window, so no purge pass is needed.
type RedisStore struct {
	client redis.Scripter
	prefix string
	clock  func() time.Time
}

func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, clock: time.Now}
}

// WithClock overrides the time source used for key expiry.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

func (s *RedisStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration, maxAttempts int) (int, bool, error) {
	redisKey := s.prefix + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)
	ttl := windowStart.Add(window).Sub(s.clock())
	// Keep the key slightly past the boundary to absorb clock skew between instances.
	ttl += time.Second
	if ttl < time.Second {
		ttl = time.Second
	}

	res, err := incrementScript.Run(ctx, s.client, []string{redisKey}, maxAttempts, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("increment rate limit key: %w: %v", sentinel.ErrUnavailable, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("increment rate limit key: unexpected script reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}
