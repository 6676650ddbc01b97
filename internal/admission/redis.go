package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally appends in one round trip.
// KEYS[1] window key; ARGV: now (µs), cutoff (µs), limit, ttl (ms), member.
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	return {0, count, oldest[2] or ARGV[1]}
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {1, count + 1, ARGV[1]}
`)

// RedisStore keeps admission windows in Redis sorted sets so several broker
// processes share one window per token.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb redis.Scripter, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "broker:admission"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TryAdmit implements Store.
func (s *RedisStore) TryAdmit(ctx context.Context, key string, now time.Time, limit int, span time.Duration) (Decision, error) {
	nowMicros := now.UnixMicro()
	cutoff := now.Add(-span).UnixMicro()
	member := fmt.Sprintf("%d-%s", nowMicros, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, s.rdb, []string{s.prefix + ":" + key},
		nowMicros, cutoff, limit, span.Milliseconds(), member).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("admission: redis window: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("admission: redis window: unexpected reply %v", res)
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	dec := Decision{Allowed: allowed == 1, Count: int(count)}
	if !dec.Allowed {
		if oldest, ok := parseMicros(res[2]); ok {
			dec.RetryAfter = time.UnixMicro(oldest).Add(span).Sub(now)
		}
	}
	return dec, nil
}

func parseMicros(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case string:
		var n float64
		if _, err := fmt.Sscanf(t, "%g", &n); err != nil {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
