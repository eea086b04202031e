package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*redisStepQueue, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.UnixMilli(1_700_000_000_000)
	q := NewRedisStepQueue(rdb, DefaultQueueKeys("test")).(*redisStepQueue)
	q.now = func() time.Time { return now }
	return q, mr, &now
}

func TestStepQueue_DelayedStepIsPromotedWhenDue(t *testing.T) {
	ctx := context.Background()
	q, _, now := newTestQueue(t)

	require.NoError(t, q.Schedule(ctx, "job-1", 2*time.Second))

	n, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	*now = now.Add(2 * time.Second)
	n, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	id, err := q.ClaimBlocking(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	require.NoError(t, q.Ack(ctx, id))
	processing, err := q.rdb.LLen(ctx, q.keys.Processing).Result()
	require.NoError(t, err)
	assert.Zero(t, processing)
}

func TestStepQueue_DuplicateScheduleKeepsEarliest(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	require.NoError(t, q.Schedule(ctx, "job-1", 10*time.Second))
	require.NoError(t, q.Schedule(ctx, "job-1", time.Second))
	require.NoError(t, q.Schedule(ctx, "job-1", 30*time.Second))

	members, err := q.rdb.ZRangeWithScores(ctx, q.keys.Scheduled, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, float64(q.now().Add(time.Second).UnixMilli()), members[0].Score)
}

func TestStepQueue_ClaimTimesOut(t *testing.T) {
	q, _, _ := newTestQueue(t)

	_, err := q.ClaimBlocking(context.Background(), 50*time.Millisecond)
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestStepQueue_RequeueStale(t *testing.T) {
	ctx := context.Background()
	q, _, now := newTestQueue(t)

	require.NoError(t, q.Schedule(ctx, "job-1", 0))
	require.NoError(t, q.Schedule(ctx, "job-2", 0))
	_, err := q.PromoteDue(ctx)
	require.NoError(t, err)

	first, err := q.ClaimBlocking(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	second, err := q.ClaimBlocking(ctx, 100*time.Millisecond)
	require.NoError(t, err)

	moved, err := q.RequeueStale(ctx, 30*time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	ready, err := q.rdb.LRange(ctx, q.keys.Ready, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{first}, ready)

	processing, err := q.rdb.LRange(ctx, q.keys.Processing, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{second}, processing)
}
