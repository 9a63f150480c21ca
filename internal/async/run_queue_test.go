package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gauge struct{ last atomic.Int64 }

func (g *gauge) Set(v float64) { g.last.Store(int64(v)) }

func TestRunQueue_ProcessesJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	h := HandlerFunc(func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.RunID)
		return nil
	})
	g := &gauge{}
	q := NewRunQueue(h, nil, WithWorkers(3), WithQueueSize(4), WithDepthGauge(g))

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{RunID: id, Key: "inputs/" + id + ".pdf"}))
	}
	q.Shutdown(context.Background())

	assert.ElementsMatch(t, []string{"run-1", "run-2", "run-3"}, seen)
	assert.Equal(t, int64(0), g.last.Load())
}

func TestRunQueue_SkipsDuplicateUnlessForced(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	h := HandlerFunc(func(ctx context.Context, _ Job) error {
		calls.Add(1)
		<-release
		return nil
	})
	q := NewRunQueue(h, nil, WithWorkers(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{RunID: "run-1"}))
	require.NoError(t, q.Enqueue(context.Background(), Job{RunID: "run-1"}))
	require.NoError(t, q.Enqueue(context.Background(), Job{RunID: "run-1", Force: true}))

	close(release)
	q.Shutdown(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRunQueue_ReleasesRunAfterCompletion(t *testing.T) {
	done := make(chan struct{}, 2)
	h := HandlerFunc(func(context.Context, Job) error {
		done <- struct{}{}
		return errors.New("boom")
	})
	q := NewRunQueue(h, nil, WithWorkers(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{RunID: "run-1"}))
	<-done
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		_, busy := q.pending["run-1"]
		return !busy
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Enqueue(context.Background(), Job{RunID: "run-1"}))
	<-done
	q.Shutdown(context.Background())
}

func TestRunQueue_EnqueueHonoursContextWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	h := HandlerFunc(func(context.Context, Job) error {
		started <- struct{}{}
		<-release
		return nil
	})
	q := NewRunQueue(h, nil, WithWorkers(1), WithQueueSize(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{RunID: "a"}))
	<-started
	require.NoError(t, q.Enqueue(context.Background(), Job{RunID: "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{RunID: "c"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	q.mu.Lock()
	_, held := q.pending["c"]
	q.mu.Unlock()
	assert.False(t, held)

	close(release)
	q.Shutdown(context.Background())
}

func TestRunQueue_ProcessTimeout(t *testing.T) {
	errs := make(chan error, 1)
	h := HandlerFunc(func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	})
	q := NewRunQueue(h, nil, WithWorkers(1), WithProcessTimeout(10*time.Millisecond))

	require.NoError(t, q.Enqueue(context.Background(), Job{RunID: "slow"}))
	assert.ErrorIs(t, <-errs, context.DeadlineExceeded)
	q.Shutdown(context.Background())
}

func TestRunQueue_EnqueueAfterShutdown(t *testing.T) {
	q := NewRunQueue(HandlerFunc(func(context.Context, Job) error { return nil }), nil)
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{RunID: "late"})
	assert.ErrorIs(t, err, ErrClosed)
}
