package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

// maxTransitions bounds a single execution so a cyclic table cannot spin forever.
const maxTransitions = 1000

// Observer is notified of every state transition.
type Observer interface {
	StateEntered(machine, state string)
	StateExited(machine, state string, elapsed time.Duration, err error)
	Retried(machine, state string, attempt int, err error)
}

type nopObserver struct{}

func (nopObserver) StateEntered(string, string)                      {}
func (nopObserver) StateExited(string, string, time.Duration, error) {}
func (nopObserver) Retried(string, string, int, error)               {}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	Logger   *slog.Logger
	Observer Observer
	Timeout  time.Duration // zero leaves the caller's deadline in charge
	Sleep    SleepFunc     // retry waits; tests inject a recorder
}

// Machine executes one Definition.
type Machine[T any] struct {
	def     Definition[T]
	log     *slog.Logger
	obs     Observer
	timeout time.Duration
	sleep   SleepFunc
}

func New[T any](def Definition[T], opts Options) (*Machine[T], error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	m := &Machine[T]{def: def, log: opts.Logger, obs: opts.Observer, timeout: opts.Timeout, sleep: opts.Sleep}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.obs == nil {
		m.obs = nopObserver{}
	}
	if m.sleep == nil {
		m.sleep = sleepContext
	}
	return m, nil
}

func (m *Machine[T]) Name() string { return m.def.Name }

// Run executes the machine from its start state until a terminal state. With a timeout
// configured, exceeding it returns common.ErrRunTimeout.
func (m *Machine[T]) Run(ctx context.Context, in T) (T, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	execID := uuid.Must(uuid.NewV7()).String()
	log := m.log.With("machine", m.def.Name, "execution_id", execID, "run_id", common.RunIDFromContext(ctx))
	start := time.Now()
	log.Debug("workflow.execution.start", "start_at", m.def.StartAt)

	data := in
	cur := m.def.StartAt
	for step := 0; ; step++ {
		if step >= maxTransitions {
			return data, fmt.Errorf("workflow %s: exceeded %d transitions", m.def.Name, maxTransitions)
		}
		if err := ctx.Err(); err != nil {
			return data, m.contextError(cur, err)
		}
		st := m.def.States[cur]
		m.obs.StateEntered(m.def.Name, cur)
		entered := time.Now()

		switch st.Kind {
		case KindSucceed:
			m.obs.StateExited(m.def.Name, cur, 0, nil)
			log.Debug("workflow.execution.ok", "state", cur, "elapsed_ms", time.Since(start).Milliseconds())
			return data, nil

		case KindFail:
			err := st.Error
			if err == nil {
				err = ErrStateFailed
			}
			m.obs.StateExited(m.def.Name, cur, 0, err)
			log.Warn("workflow.execution.failed", "state", cur, "error", err)
			return data, fmt.Errorf("workflow %s state %s: %w", m.def.Name, cur, err)

		case KindChoice:
			next := st.Default
			for _, c := range st.Choices {
				if c.When(data) {
					next = c.Next
					break
				}
			}
			m.obs.StateExited(m.def.Name, cur, time.Since(entered), nil)
			if next == "" {
				return data, fmt.Errorf("workflow %s: no branch of choice %s matched", m.def.Name, cur)
			}
			log.Debug("workflow.choice", "state", cur, "next", next)
			cur = next

		default:
			out, err := m.runTask(ctx, cur, st, data, log)
			m.obs.StateExited(m.def.Name, cur, time.Since(entered), err)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return data, m.contextError(cur, ctxErr)
				}
				if c, ok := catcherFor(st.Catch, err); ok {
					log.Warn("workflow.state.caught", "state", cur, "next", c.Next, "error", err)
					if c.Record != nil {
						data = c.Record(data, err)
					}
					cur = c.Next
					continue
				}
				log.Error("workflow.state.failed", "state", cur, "error", err)
				return data, fmt.Errorf("workflow %s state %s: %w", m.def.Name, cur, err)
			}
			data = out
			log.Debug("workflow.state.ok", "state", cur, "elapsed_ms", time.Since(entered).Milliseconds())
			if st.End {
				log.Debug("workflow.execution.ok", "state", cur, "elapsed_ms", time.Since(start).Milliseconds())
				return data, nil
			}
			cur = st.Next
		}
	}
}

func (m *Machine[T]) runTask(ctx context.Context, name string, st State[T], in T, log *slog.Logger) (T, error) {
	retries := 0
	for {
		out, err := st.Task(ctx, in)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return in, err
		}
		r, ok := retrierFor(st.Retry, err)
		if !ok || retries >= r.MaxAttempts {
			return in, err
		}
		retries++
		wait := r.wait(retries)
		m.obs.Retried(m.def.Name, name, retries, err)
		log.Warn("workflow.state.retry",
			"state", name,
			"attempt", retries,
			"max_attempts", r.MaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if err := m.sleep(ctx, wait); err != nil {
			return in, err
		}
	}
}

func (m *Machine[T]) contextError(state string, err error) error {
	if m.timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s exceeded %s in state %s", common.ErrRunTimeout, m.def.Name, m.timeout, state)
	}
	return fmt.Errorf("workflow %s state %s: %w", m.def.Name, state, err)
}

func retrierFor(rs []Retrier, err error) (Retrier, bool) {
	for _, r := range rs {
		if r.Match(err) {
			return r, true
		}
	}
	return Retrier{}, false
}

func catcherFor[T any](cs []Catcher[T], err error) (Catcher[T], bool) {
	for _, c := range cs {
		if c.Match(err) {
			return c, true
		}
	}
	return Catcher[T]{}, false
}

// ForEach runs fn over items with at most limit in flight and returns the outputs in
// input order. The first error cancels the remaining items and is returned.
func ForEach[I, O any](ctx context.Context, items []I, limit int, fn func(ctx context.Context, i int, item I) (O, error)) ([]O, error) {
	out := make([]O, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			o, err := fn(gctx, i, item)
			if err != nil {
				return err
			}
			out[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
