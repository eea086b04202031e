package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-orchestrator/internal/service"
)

type recordingQueue struct {
	ops         []string
	scheduleErr error
}

func (q *recordingQueue) Schedule(ctx context.Context, jobID string, delay time.Duration) error {
	q.ops = append(q.ops, "schedule:"+jobID+":"+delay.String())
	return q.scheduleErr
}

func (q *recordingQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (q *recordingQueue) Ack(ctx context.Context, jobID string) error {
	q.ops = append(q.ops, "ack:"+jobID)
	return nil
}

func (q *recordingQueue) PromoteDue(ctx context.Context) (int64, error) { return 0, nil }

func (q *recordingQueue) RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error) {
	return 0, nil
}

type stubProcessor struct {
	res Result
	err error
}

func (p stubProcessor) Process(ctx context.Context, jobID string) (Result, error) {
	return p.res, p.err
}

func TestPool_SchedulesBeforeAck(t *testing.T) {
	q := &recordingQueue{}
	p := NewPool(q, stubProcessor{res: Result{Reschedule: true, Delay: time.Second}}, 1, zerolog.Nop())

	p.handle(context.Background(), 1, "job-1")
	assert.Equal(t, []string{"schedule:job-1:1s", "ack:job-1"}, q.ops)
}

func TestPool_FinishedChainOnlyAcks(t *testing.T) {
	q := &recordingQueue{}
	p := NewPool(q, stubProcessor{err: errors.New("boom")}, 1, zerolog.Nop())

	p.handle(context.Background(), 1, "job-1")
	assert.Equal(t, []string{"ack:job-1"}, q.ops)
}

func TestPool_ScheduleFailureLeavesStepClaimed(t *testing.T) {
	q := &recordingQueue{scheduleErr: errors.New("redis down")}
	p := NewPool(q, stubProcessor{res: Result{Reschedule: true}}, 1, zerolog.Nop())

	p.handle(context.Background(), 1, "job-1")
	assert.Equal(t, []string{"schedule:job-1:0s"}, q.ops)
}

func TestPool_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(&recordingQueue{}, stubProcessor{}, 2, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

type countingProcessor struct {
	calls chan string
}

func (p countingProcessor) Process(ctx context.Context, jobID string) (Result, error) {
	p.calls <- jobID
	return Result{}, nil
}

func TestPool_ProcessesPromotedSteps(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	queue := service.NewRedisStepQueue(rdb, service.DefaultQueueKeys("pooltest"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, queue.Schedule(ctx, "job-1", 0))
	_, err := queue.PromoteDue(ctx)
	require.NoError(t, err)

	calls := make(chan string, 1)
	p := NewPool(queue, countingProcessor{calls: calls}, 1, zerolog.Nop())
	p.claimDelay = time.Second
	go func() { _ = p.Run(ctx) }()

	select {
	case id := <-calls:
		assert.Equal(t, "job-1", id)
	case <-time.After(3 * time.Second):
		t.Fatal("step was not processed")
	}
}
