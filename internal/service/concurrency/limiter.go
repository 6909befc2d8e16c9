package concurrency

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Limiter bounds the number of in-flight calls across all campaigns using
// a Redis counter. Campaign-level ceilings stay inside each engine; this
// guards the shared trunk capacity of the telephony integration.
type Limiter struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
}

// NewLimiter constructs a global dial-slot limiter. A non-positive limit
// disables the limiter.
func NewLimiter(client *redis.Client, limit int, ttl time.Duration) *Limiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Limiter{client: client, limit: limit, ttl: ttl}
}

const slotKey = "dialer:global:active_calls"

// Acquire attempts to reserve a dial slot.
func (l *Limiter) Acquire(ctx context.Context) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	script := redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  current = redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

	res, err := script.Run(ctx, l.client, []string{slotKey}, l.limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("concurrency acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees a previously acquired slot.
func (l *Limiter) Release(ctx context.Context) error {
	if l.limit <= 0 {
		return nil
	}

	script := redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)
	if _, err := script.Run(ctx, l.client, []string{slotKey}).Int(); err != nil {
		return fmt.Errorf("concurrency release: %w", err)
	}
	return nil
}
