package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// tryConsumeScript initializes or decrements the allowance in one atomic
// step on the server. It returns {remaining, allowed, pttl_ms}.
var tryConsumeScript = redis.NewScript(`
local remaining = redis.call('GET', KEYS[1])
if remaining == false then
  local fresh = tonumber(ARGV[1]) - 1
  redis.call('SET', KEYS[1], fresh, 'PX', ARGV[2])
  return {fresh, 1, redis.call('PTTL', KEYS[1])}
end
remaining = tonumber(remaining)
if remaining > 0 then
  remaining = redis.call('DECR', KEYS[1])
  return {remaining, 1, redis.call('PTTL', KEYS[1])}
end
return {remaining, 0, redis.call('PTTL', KEYS[1])}
`)

// remainingScript reads the allowance, lazily starting a fresh window so a
// balance query never reports more than a subsequent draw would see.
var remainingScript = redis.NewScript(`
local remaining = redis.call('GET', KEYS[1])
if remaining == false then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return {tonumber(ARGV[1]), redis.call('PTTL', KEYS[1])}
end
return {tonumber(remaining), redis.call('PTTL', KEYS[1])}
`)

// RedisStore is the shared, authoritative quota backend.
type RedisStore struct {
	rdb       *redis.Client
	allowance int64
	window    time.Duration
}

func NewRedisStore(rdb *redis.Client, allowance int64, window time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, allowance: allowance, window: window}
}

func key(principal string) string {
	return fmt.Sprintf(keyFmt, strings.ToLower(principal))
}

func (s *RedisStore) TryConsume(ctx context.Context, principal string) (Record, bool, error) {
	vals, err := tryConsumeScript.Run(ctx, s.rdb,
		[]string{key(principal)}, s.allowance, s.window.Milliseconds()).Slice()
	if err != nil {
		return Record{}, false, fmt.Errorf("quota: consume: %w", err)
	}
	if len(vals) != 3 {
		return Record{}, false, fmt.Errorf("quota: script returned %d values", len(vals))
	}
	remaining, _ := vals[0].(int64)
	allowed, _ := vals[1].(int64)
	return s.record(remaining, vals[2]), allowed == 1, nil
}

func (s *RedisStore) Remaining(ctx context.Context, principal string) (Record, error) {
	vals, err := remainingScript.Run(ctx, s.rdb,
		[]string{key(principal)}, s.allowance, s.window.Milliseconds()).Slice()
	if err != nil {
		return Record{}, fmt.Errorf("quota: remaining: %w", err)
	}
	if len(vals) != 2 {
		return Record{}, fmt.Errorf("quota: script returned %d values", len(vals))
	}
	remaining, _ := vals[0].(int64)
	return s.record(remaining, vals[1]), nil
}

// Reset restores the full allowance and restarts the window.
func (s *RedisStore) Reset(ctx context.Context, principal string) error {
	if err := s.rdb.Set(ctx, key(principal), s.allowance, s.window).Err(); err != nil {
		return fmt.Errorf("quota: reset: %w", err)
	}
	return nil
}

func (s *RedisStore) record(remaining int64, pttl interface{}) Record {
	rec := Record{Remaining: remaining}
	if ms, ok := pttl.(int64); ok && ms > 0 {
		rec.WindowExpiresAt = time.Now().Add(time.Duration(ms) * time.Millisecond)
	}
	return rec
}
