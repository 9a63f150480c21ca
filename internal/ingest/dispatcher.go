package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/esg-compliance/internal/async"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/grading"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

type RunEnqueuer interface {
	Enqueue(ctx context.Context, job async.Job) error
}

type GradingLoader interface {
	LoadKey(ctx context.Context, store storage.Store, key string) (grading.Summary, error)
}

// Dispatcher routes object-created events: reports become queued runs and
// grading uploads are loaded into the reference table straight away.
type Dispatcher struct {
	queue   RunEnqueuer
	grading GradingLoader
	store   storage.Store
	log     *slog.Logger
}

func NewDispatcher(queue RunEnqueuer, grading GradingLoader, store storage.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, grading: grading, store: store, log: logger}
}

// Dispatch handles one event. Ignored keys are not an error; the returned Kind
// says what happened.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, force bool) (Kind, error) {
	kind, runID := Classify(ev.Key)
	log := d.log.With("key", ev.Key, "kind", kind.String())

	switch kind {
	case KindReport:
		if err := d.queue.Enqueue(ctx, async.Job{RunID: runID, Key: ev.Key, Force: force}); err != nil {
			log.Error("ingest.dispatch.failed", "run_id", runID, "error", err)
			return kind, fmt.Errorf("enqueue run %s: %w", runID, err)
		}
		log.Info("ingest.dispatch.queued", "run_id", runID)
	case KindGrading:
		if d.grading == nil {
			return kind, fmt.Errorf("%w: no grading loader configured", common.ErrNotReady)
		}
		sum, err := d.grading.LoadKey(ctx, d.store, ev.Key)
		if err != nil {
			log.Error("ingest.dispatch.failed", "error", err)
			return kind, err
		}
		log.Info("ingest.dispatch.loaded", "rows", sum.Rows, "skipped", sum.Skipped)
	default:
		log.Debug("ingest.dispatch.ignored")
	}
	return kind, nil
}

// Consume dispatches events until the channel closes or ctx is done.
// Failures are logged and do not stop the loop.
func (d *Dispatcher) Consume(ctx context.Context, events <-chan Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_, _ = d.Dispatch(ctx, ev, false)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.log.Warn("ingest.watch.error", "error", err)
		}
	}
}
