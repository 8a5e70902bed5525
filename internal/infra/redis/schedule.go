package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Schedule stores job wake-ups in a sorted set scored by due time (unix ms).
// A job appears at most once; rescheduling keeps the earlier due time.
type Schedule struct {
	rdb *redis.Client
	key string
}

// NewSchedule creates a Redis-backed schedule.
func NewSchedule(c *Client) *Schedule {
	return &Schedule{rdb: c.rdb, key: scheduleKey(c.prefix)}
}

// Schedule adds jobID to run at or after at.
func (s *Schedule) Schedule(ctx context.Context, jobID string, at time.Time) error {
	err := s.rdb.ZAddLT(ctx, s.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: jobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// ClaimDue removes and returns up to limit jobs due at now. Each member is
// claimed by exactly one caller: only the ZREM that removes it wins.
func (s *Schedule) ClaimDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	claimed := make([]string, 0, len(members))
	for _, m := range members {
		n, err := s.rdb.ZRem(ctx, s.key, m).Result()
		if err != nil {
			return claimed, fmt.Errorf("zrem failed: %w", err)
		}
		if n == 1 {
			claimed = append(claimed, m)
		}
	}
	return claimed, nil
}

// Len returns the number of scheduled jobs.
func (s *Schedule) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return n, nil
}

// unlockScript deletes the lock only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker provides per-job mutual exclusion with expiring locks.
type Locker struct {
	rdb    *redis.Client
	prefix string
}

// NewLocker creates a Redis-backed job locker.
func NewLocker(c *Client) *Locker {
	return &Locker{rdb: c.rdb, prefix: c.prefix}
}

// Lock attempts to acquire the lock for jobID. The returned token must be
// passed to Unlock.
func (l *Locker) Lock(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, lockKey(l.prefix, jobID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases the lock if token still owns it.
func (l *Locker) Unlock(ctx context.Context, jobID, token string) error {
	if err := unlockScript.Run(ctx, l.rdb, []string{lockKey(l.prefix, jobID)}, token).Err(); err != nil {
		return fmt.Errorf("unlock failed: %w", err)
	}
	return nil
}

// Refresh extends the TTL of a lock still held with token. It returns
// false when the lock expired or changed hands.
func (l *Locker) Refresh(ctx context.Context, jobID, token string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.rdb, []string{lockKey(l.prefix, jobID)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lock failed: %w", err)
	}
	return n == 1, nil
}
