package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const KeyPrefix = "admission:"

// reserveScript trims expired holds, counts the rest and adds the new hold
// only when there is room. The key lives as long as its latest hold.
//
// KEYS[1] hold set; ARGV: now ms, active, limit, token, expires ms
var reserveScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local used = tonumber(ARGV[2]) + redis.call('ZCARD', KEYS[1])
if used >= tonumber(ARGV[3]) then
  return {0, used}
end
redis.call('ZADD', KEYS[1], ARGV[5], ARGV[4])
local last = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
redis.call('PEXPIREAT', KEYS[1], last[2])
return {1, used + 1}
`)

// confirmScript re-arms an existing hold and keeps the key alive for it.
//
// KEYS[1] hold set; ARGV: token, expires ms
var confirmScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
local last = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
redis.call('PEXPIREAT', KEYS[1], last[2])
return 1
`)

// RedisLedger keeps holds in one sorted set per track, scored by expiry.
type RedisLedger struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, now: time.Now}
}

func key(track string) string {
	return KeyPrefix + track
}

func (l *RedisLedger) Reserve(ctx context.Context, track string, active, limit int, ttl time.Duration) (Reservation, error) {
	now := l.now()
	r := Reservation{Track: track, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}

	res, err := reserveScript.Run(ctx, l.client, []string{key(track)},
		now.UnixMilli(), active, limit, r.Token, r.ExpiresAt.UnixMilli()).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("admission reserve %s: %w", track, err)
	}
	if len(res) != 2 {
		return Reservation{}, fmt.Errorf("admission reserve %s: unexpected reply %v", track, res)
	}
	if res[0] == 0 {
		return Reservation{}, &FullError{Track: track, Used: clampUsed(int(res[1]), limit), Cap: limit}
	}
	return r, nil
}

func (l *RedisLedger) Confirm(ctx context.Context, track, token string, grace time.Duration) error {
	exp := l.now().Add(grace).UnixMilli()
	if err := confirmScript.Run(ctx, l.client, []string{key(track)}, token, exp).Err(); err != nil {
		return fmt.Errorf("admission confirm %s: %w", track, err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, track, token string) error {
	if err := l.client.ZRem(ctx, key(track), token).Err(); err != nil {
		return fmt.Errorf("admission release %s: %w", track, err)
	}
	return nil
}

func (l *RedisLedger) Pending(ctx context.Context, track string) (int, error) {
	from := strconv.FormatInt(l.now().UnixMilli()+1, 10)
	n, err := l.client.ZCount(ctx, key(track), from, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("admission pending %s: %w", track, err)
	}
	return int(n), nil
}
