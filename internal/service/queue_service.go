package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type Queue interface {
	Schedule(ctx context.Context, jobID string, delay time.Duration) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	PromoteDue(ctx context.Context) (int64, error)
	RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error)
}

// QueueKeys names the Redis keys of one step queue.
type QueueKeys struct {
	Scheduled  string // ZSET job id -> due time (unix ms)
	Ready      string // LIST of due job ids
	Processing string // LIST of claimed job ids
	Claims     string // HASH job id -> claim time (unix ms)
}

func DefaultQueueKeys(prefix string) QueueKeys {
	if prefix == "" {
		prefix = "comic"
	}
	return QueueKeys{
		Scheduled:  prefix + ":steps:scheduled",
		Ready:      prefix + ":steps:ready",
		Processing: prefix + ":steps:processing",
		Claims:     prefix + ":steps:claims",
	}
}

// redisStepQueue is a reliable delayed queue of job steps.
// Schedule: ZADD LT scheduled (duplicates collapse to the earliest due time)
// Promote:  Lua moves due ids scheduled -> ready
// Claim:    BRPOPLPUSH ready -> processing, claim time kept in a hash
// Ack:      LREM processing + HDEL claims
type redisStepQueue struct {
	rdb  redis.UniversalClient
	keys QueueKeys
	now  func() time.Time
}

func NewRedisStepQueue(rdb redis.UniversalClient, keys QueueKeys) Queue {
	return &redisStepQueue{rdb: rdb, keys: keys, now: time.Now}
}

func (q *redisStepQueue) Schedule(ctx context.Context, jobID string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	due := q.now().Add(delay).UnixMilli()
	return q.rdb.ZAddArgs(ctx, q.keys.Scheduled, redis.ZAddArgs{
		LT:      true,
		Members: []redis.Z{{Score: float64(due), Member: jobID}},
	}).Err()
}

var promoteScript = redis.NewScript(`
local scheduled_key = KEYS[1]
local ready_key = KEYS[2]
local now = tonumber(ARGV[1])
local ids = redis.call('ZRANGEBYSCORE', scheduled_key, '-inf', now)
if #ids > 0 then
    for _, id in ipairs(ids) do
        redis.call('LPUSH', ready_key, id)
    end
    redis.call('ZREMRANGEBYSCORE', scheduled_key, '-inf', now)
end
return #ids
`)

// PromoteDue moves every step whose due time has passed onto the ready list.
func (q *redisStepQueue) PromoteDue(ctx context.Context) (int64, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.rdb, []string{q.keys.Scheduled, q.keys.Ready}, now).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return n, nil
}

// ClaimBlocking waits up to timeout for a ready step. It returns redis.Nil when
// nothing arrived in time.
func (q *redisStepQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	id, err := q.rdb.BRPopLPush(ctx, q.keys.Ready, q.keys.Processing, timeout).Result()
	if err != nil {
		return "", err
	}
	// remember when it was claimed so the reaper can tell stale claims apart
	if err := q.rdb.HSet(ctx, q.keys.Claims, id, q.now().UnixMilli()).Err(); err != nil {
		return "", err
	}
	return id, nil
}

func (q *redisStepQueue) Ack(ctx context.Context, jobID string) error {
	if err := q.rdb.LRem(ctx, q.keys.Processing, 1, jobID).Err(); err != nil {
		return err
	}
	_ = q.rdb.HDel(ctx, q.keys.Claims, jobID).Err()
	return nil
}

// RequeueStale returns steps claimed more than olderThan ago to the ready list.
// It's the at-least-once half of the queue: a worker that died mid-step gets
// its step redelivered.
func (q *redisStepQueue) RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error) {
	claimed, err := q.rdb.LRange(ctx, q.keys.Processing, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}
	claims, err := q.rdb.HGetAll(ctx, q.keys.Claims).Result()
	if err != nil {
		return 0, err
	}

	now := q.now()
	cutoff := now.Add(-olderThan).UnixMilli()
	var moved int64
	for _, id := range claimed {
		if moved >= max {
			break
		}
		raw, ok := claims[id]
		if !ok {
			// crashed between claim and HSET; start the clock now
			_ = q.rdb.HSet(ctx, q.keys.Claims, id, now.UnixMilli()).Err()
			continue
		}
		at, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && at > cutoff {
			continue
		}

		removed, err := q.rdb.LRem(ctx, q.keys.Processing, 1, id).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.keys.Ready, id).Err(); err != nil {
			return moved, err
		}
		_ = q.rdb.HDel(ctx, q.keys.Claims, id).Err()
		moved++
	}
	return moved, nil
}
