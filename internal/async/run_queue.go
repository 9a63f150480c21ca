package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Enqueue once Shutdown has started.
var ErrClosed = errors.New("queue is shutting down")

var _ Queue = (*RunQueue)(nil)

// DepthGauge receives the number of waiting jobs.
type DepthGauge interface {
	Set(float64)
}

// RunQueue feeds jobs to a fixed pool of workers. A run id is held from
// enqueue until its job finishes, so the same run is never executed twice at once.
type RunQueue struct {
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration
	depth   DepthGauge

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	sendMu sync.RWMutex // guards closed and sends on ch
	closed bool

	mu      sync.Mutex
	pending map[string]struct{}
}

type Option func(*RunQueue)

func WithWorkers(n int) Option {
	return func(q *RunQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *RunQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *RunQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}
func WithDepthGauge(g DepthGauge) Option {
	return func(q *RunQueue) { q.depth = g }
}

func NewRunQueue(h Handler, logger *slog.Logger, opts ...Option) *RunQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &RunQueue{
		handler: h,
		logger:  logger,
		workers: 2,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 64),
		pending: map[string]struct{}{},
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *RunQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("queue.worker.started", "worker_id", workerID)

				for job := range q.ch {
					q.report()
					q.run(workerID, job)
				}

				q.logger.Info("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *RunQueue) run(workerID int, job Job) {
	defer func() {
		q.mu.Lock()
		delete(q.pending, job.RunID)
		q.mu.Unlock()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	start := time.Now()
	if err := q.handler.Handle(ctx, job); err != nil {
		q.logger.Error("queue.job.failed", "worker_id", workerID, "run_id", job.RunID, "key", job.Key, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return
	}
	q.logger.Info("queue.job.ok", "worker_id", workerID, "run_id", job.RunID,
		"elapsed_ms", time.Since(start).Milliseconds())
}

func (q *RunQueue) report() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.ch)))
	}
}

// Enqueue blocks while the buffer is full, until ctx is done.
// A run that is already queued or running is skipped unless job.Force is set.
func (q *RunQueue) Enqueue(ctx context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "run_id", job.RunID)
		return ErrClosed
	}

	q.mu.Lock()
	if _, busy := q.pending[job.RunID]; busy && !job.Force {
		q.mu.Unlock()
		q.logger.Info("queue.enqueue.duplicate", "run_id", job.RunID)
		return nil
	}
	q.pending[job.RunID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueue.ok", "run_id", job.RunID, "key", job.Key, "force", job.Force)
	default:
		q.logger.Warn("queue.enqueue.backpressure", "run_id", job.RunID)
		select {
		case q.ch <- job:
		case <-ctx.Done():
			q.mu.Lock()
			delete(q.pending, job.RunID)
			q.mu.Unlock()
			return ctx.Err()
		}
	}
	q.report()
	return nil
}

func (q *RunQueue) Shutdown(ctx context.Context) {
	q.sendMu.Lock()
	if q.closed {
		q.sendMu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.sendMu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.ok")
	}
}
