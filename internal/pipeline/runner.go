package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/ingest"
	"github.com/joseph-ayodele/esg-compliance/internal/repository"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
	"github.com/joseph-ayodele/esg-compliance/internal/workflow"
)

type Deps struct {
	Store      storage.Store
	Splitter   Splitter
	Loader     DocumentLoader
	Supplier   SupplierExtractor
	Issues     IssueExtractor
	Reconciler Reconciler
	Email      EmailGenerator
	Runs       repository.RunRepository
	Suppliers  repository.SupplierRepository
	Audits     repository.AuditRepository
	Grading    repository.GradingRepository
	Approvals  ApprovalRequester // optional
}

type Config struct {
	MapConcurrency   int
	RunTimeout       time.Duration
	RetryMaxAttempts int
	RetryInterval    time.Duration
	RetryBackoff     float64
	Observer         workflow.Observer
	Recorder         Recorder
	Sleep            workflow.SleepFunc
}

// ConfigFrom maps the workflow settings of the application config.
func ConfigFrom(c common.WorkflowConfig) Config {
	return Config{
		MapConcurrency:   c.MapConcurrency,
		RunTimeout:       c.RunTimeout,
		RetryMaxAttempts: c.RetryMaxAttempts,
		RetryInterval:    c.RetryInterval,
		RetryBackoff:     c.RetryBackoff,
	}
}

// Runner executes the compliance workflow for one run at a time.
type Runner struct {
	deps     Deps
	cfg      Config
	run      *workflow.Machine[*RunData]
	section  *workflow.Machine[*Branch]
	recorder Recorder
	log      *slog.Logger
}

func NewRunner(deps Deps, cfg Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MapConcurrency <= 0 {
		cfg.MapConcurrency = 10
	}
	r := &Runner{deps: deps, cfg: cfg, recorder: cfg.Recorder, log: logger}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}

	var err error
	r.section, err = workflow.New(r.sectionDefinition(), workflow.Options{
		Logger:   logger,
		Observer: cfg.Observer,
		Sleep:    cfg.Sleep,
	})
	if err != nil {
		return nil, err
	}
	r.run, err = workflow.New(r.runDefinition(), workflow.Options{
		Logger:   logger,
		Observer: cfg.Observer,
		Timeout:  cfg.RunTimeout,
		Sleep:    cfg.Sleep,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Process handles an object-created event for a report upload.
func (r *Runner) Process(ctx context.Context, ev ingest.Event) error {
	runID, ok := ingest.ParseRunKey(ev.Key)
	if !ok {
		return fmt.Errorf("%w: %q is not a report input key", common.ErrInvalidInput, ev.Key)
	}
	_, err := r.Run(ctx, runID, ev.Key)
	return err
}

// Run executes the workflow for runID on the report stored at inputKey.
func (r *Runner) Run(ctx context.Context, runID, inputKey string) (*RunData, error) {
	ctx = common.WithRunID(ctx, runID)
	start := time.Now()
	log := r.log.With("run_id", runID)
	log.Info("pipeline.run.start", "input_key", inputKey)

	if err := r.deps.Runs.StartRun(ctx, runID, inputKey); err != nil {
		return nil, err
	}
	out, err := r.run.Run(ctx, &RunData{RunID: runID, InputKey: inputKey})
	if err != nil {
		status := constants.RunStatusFailed
		if errors.Is(err, common.ErrRunTimeout) {
			status = constants.RunStatusTimedOut
		}
		// the run context may already be past its deadline
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if ferr := r.deps.Runs.FinishRun(fctx, runID, status, err.Error()); ferr != nil {
			log.Error("pipeline.run.finish_failed", "error", ferr)
		}
		r.recorder.RunFinished(string(status))
		log.Error("pipeline.run.failed",
			"status", status,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return out, err
	}
	r.recorder.RunFinished(string(constants.RunStatusCompleted))
	log.Info("pipeline.run.ok",
		"company", out.Supplier.CompanyName,
		"audit_date", out.Supplier.AuditDate,
		"sections", len(out.Branches),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if r.deps.Approvals != nil {
		if err := r.deps.Approvals.RequestApproval(ctx, runID); err != nil {
			log.Error("pipeline.review.request_failed", "error", err)
		}
	}
	return out, nil
}
