package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/issues"
	"github.com/joseph-ayodele/esg-compliance/internal/repository"
	"github.com/joseph-ayodele/esg-compliance/internal/sections"
	"github.com/joseph-ayodele/esg-compliance/internal/splitter"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
	"github.com/joseph-ayodele/esg-compliance/internal/workflow"
)

func (r *Runner) runDefinition() workflow.Definition[*RunData] {
	return workflow.Definition[*RunData]{
		Name:    RunMachine,
		StartAt: StateSplit,
		States: map[string]workflow.State[*RunData]{
			StateSplit:                  {Kind: workflow.KindTask, Task: r.tracked(StateSplit, r.split), Next: StateExtractSupplierDetails},
			StateExtractSupplierDetails: {Kind: workflow.KindTask, Task: r.tracked(StateExtractSupplierDetails, r.extractSupplier), Next: StateMapSections},
			StateMapSections:            {Kind: workflow.KindMap, Task: r.tracked(StateMapSections, r.mapSections), Next: StateGenerateEmail},
			StateGenerateEmail:          {Kind: workflow.KindTask, Task: r.tracked(StateGenerateEmail, r.generateEmail), Next: StateMarkComplete},
			StateMarkComplete:           {Kind: workflow.KindTask, Task: r.tracked(StateMarkComplete, r.markComplete), Next: StateSuccess},
			StateSuccess:                {Kind: workflow.KindSucceed},
		},
	}
}

func (r *Runner) sectionDefinition() workflow.Definition[*Branch] {
	attempts := r.cfg.RetryMaxAttempts
	if attempts < 0 {
		attempts = 0
	}
	return workflow.Definition[*Branch]{
		Name:    SectionMachine,
		StartAt: StateExtractIssues,
		States: map[string]workflow.State[*Branch]{
			StateExtractIssues: {
				Kind: workflow.KindTask,
				Task: r.extractIssues,
				Next: StateValidationChoice,
				Retry: []workflow.Retrier{{
					Match:       workflow.ErrorIs(common.ErrThroughputExceeded),
					MaxAttempts: attempts,
					Interval:    r.cfg.RetryInterval,
					Backoff:     r.cfg.RetryBackoff,
				}},
				Catch: []workflow.Catcher[*Branch]{{
					Match: workflow.AnyError,
					Next:  StateErrorPass,
					Record: func(b *Branch, err error) *Branch {
						b.Err = err
						return b
					},
				}},
			},
			StateValidationChoice: {
				Kind: workflow.KindChoice,
				Choices: []workflow.Choice[*Branch]{
					{When: func(b *Branch) bool { return b.Result.Issues == 0 || b.Result.Deferred == 0 }, Next: StateGetIssuesForDownstream},
				},
				Default: StateReconcile,
			},
			StateReconcile:              {Kind: workflow.KindTask, Task: r.reconcile, Next: StateGetIssuesForDownstream},
			StateGetIssuesForDownstream: {Kind: workflow.KindTask, Task: r.downstream, End: true},
			StateErrorPass:              {Kind: workflow.KindPass, Task: r.errorPass, End: true},
		},
	}
}

// tracked records the current state on the run row before running fn.
func (r *Runner) tracked(state string, fn workflow.TaskFunc[*RunData]) workflow.TaskFunc[*RunData] {
	return func(ctx context.Context, d *RunData) (*RunData, error) {
		if err := r.deps.Runs.SetState(ctx, d.RunID, state); err != nil {
			return d, err
		}
		return fn(ctx, d)
	}
}

func (r *Runner) split(ctx context.Context, d *RunData) (*RunData, error) {
	keys := storage.Keys{RunID: d.RunID}
	raw, err := r.deps.Store.Get(ctx, keys.Config())
	if err != nil {
		return d, fmt.Errorf("read section config: %w", err)
	}
	cfg, err := sections.ParseConfig(raw)
	if err != nil {
		return d, err
	}
	pdf, err := r.deps.Store.Get(ctx, d.InputKey)
	if err != nil {
		return d, fmt.Errorf("read report: %w", err)
	}
	res, err := r.deps.Splitter.Split(ctx, d.RunID, pdf, cfg)
	if err != nil {
		return d, err
	}
	d.Config = cfg
	d.Split = res
	return d, nil
}

func (r *Runner) extractSupplier(ctx context.Context, d *RunData) (*RunData, error) {
	doc, err := r.deps.Loader.Load(ctx, d.Split.SupplierKey)
	if err != nil {
		return d, err
	}
	rec, err := r.deps.Supplier.ExtractSupplier(ctx, doc)
	if err != nil {
		return d, err
	}
	rec.RunID = d.RunID
	saved, err := r.deps.Suppliers.Save(ctx, rec)
	if err != nil {
		return d, err
	}
	if err := r.deps.Runs.SetSupplier(ctx, d.RunID, saved.CompanyName, saved.AuditDate); err != nil {
		return d, err
	}
	d.Supplier = *saved
	return d, nil
}

func (r *Runner) mapSections(ctx context.Context, d *RunData) (*RunData, error) {
	branches, err := workflow.ForEach(ctx, d.Split.Sections, r.cfg.MapConcurrency,
		func(ctx context.Context, _ int, sec splitter.SectionOutput) (*Branch, error) {
			return r.runBranch(ctx, d, sec)
		})
	if err != nil {
		return d, err
	}
	d.Branches = branches
	return d, nil
}

func (r *Runner) runBranch(ctx context.Context, d *RunData, sec splitter.SectionOutput) (*Branch, error) {
	b := &Branch{
		RunID:   d.RunID,
		Section: sec,
		Target: issues.Target{
			Section:     sec.Name,
			Clause:      sec.Clause,
			CompanyName: d.Supplier.CompanyName,
			AuditDate:   d.Supplier.AuditDate,
		},
	}
	if err := r.saveSection(ctx, b, constants.SectionStatusRunning, nil); err != nil {
		return nil, err
	}
	out, err := r.section.Run(ctx, b)
	if err != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if serr := r.saveSection(sctx, b, constants.SectionStatusFailed, err); serr != nil {
			r.log.Error("pipeline.section.save_failed", "run_id", d.RunID, "section", sec.Name, "error", serr)
		}
		return nil, fmt.Errorf("section %s: %w", sec.Name, err)
	}

	status := constants.SectionStatusOK
	if out.Err != nil {
		status = constants.SectionStatusCaught
	}
	if err := r.saveSection(ctx, out, status, out.Err); err != nil {
		return nil, err
	}
	r.recorder.IssuesResolved("exact", out.Result.Issues-out.Result.Deferred)
	r.recorder.IssuesResolved("fallback", out.Rated)
	r.recorder.IssuesResolved("observation", out.Result.Observations)
	r.recorder.IssuesResolved("skipped", out.Result.Skipped)
	return out, nil
}

func (r *Runner) saveSection(ctx context.Context, b *Branch, status constants.SectionStatus, cause error) error {
	s := entity.SectionRun{
		RunID:        b.RunID,
		Section:      b.Section.Name,
		Clause:       b.Section.Clause,
		Status:       status,
		Issues:       b.Result.Issues,
		Observations: b.Result.Observations,
		Exact:        b.Result.Exact,
		Deferred:     b.Result.Deferred,
	}
	if cause != nil {
		msg := cause.Error()
		s.ErrorMessage = &msg
	}
	return r.deps.Runs.SaveSection(ctx, s)
}

func (r *Runner) extractIssues(ctx context.Context, b *Branch) (*Branch, error) {
	doc, err := r.deps.Loader.Load(ctx, b.Section.Key)
	if err != nil {
		return b, err
	}
	res, err := r.deps.Issues.Extract(ctx, doc, b.Target)
	if err != nil {
		return b, err
	}
	b.Result = res
	return b, nil
}

func (r *Runner) reconcile(ctx context.Context, b *Branch) (*Branch, error) {
	refs, err := r.deps.Grading.List(ctx)
	if err != nil {
		return b, err
	}
	recs, err := r.deps.Reconciler.Reconcile(ctx, b.Result.Unrated, refs)
	if err != nil {
		return b, err
	}
	for _, rec := range recs {
		if err := r.deps.Audits.Upsert(ctx, rec); err != nil {
			return b, fmt.Errorf("save %s: %w", rec.RecordKey, err)
		}
	}
	b.Rated = len(recs)
	return b, nil
}

// downstream dumps every audit row of the branch clause for consumers of the run.
func (r *Runner) downstream(ctx context.Context, b *Branch) (*Branch, error) {
	rows, err := r.deps.Audits.List(ctx, repository.AuditFilter{
		CompanyName: b.Target.CompanyName,
		KeyPrefix:   b.Target.AuditDate,
		Clause:      b.Target.Clause,
	})
	if err != nil {
		return b, err
	}
	if rows == nil {
		rows = []entity.AuditRecord{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return b, fmt.Errorf("encode section data: %w", err)
	}
	key := storage.Keys{RunID: b.RunID}.SectionData(b.Section.Name)
	if err := r.deps.Store.Put(ctx, key, data); err != nil {
		return b, fmt.Errorf("put %s: %w", key, err)
	}
	return b, nil
}

func (r *Runner) errorPass(_ context.Context, b *Branch) (*Branch, error) {
	r.log.Warn("pipeline.section.caught", "run_id", b.RunID, "section", b.Section.Name, "error", b.Err)
	return b, nil
}

func (r *Runner) generateEmail(ctx context.Context, d *RunData) (*RunData, error) {
	rows, err := r.deps.Audits.List(ctx, repository.AuditFilter{
		CompanyName: d.Supplier.CompanyName,
		KeyPrefix:   d.Supplier.AuditDate,
	})
	if err != nil {
		return d, err
	}
	body, err := r.deps.Email.Generate(ctx, d.Supplier, rows)
	if err != nil {
		return d, err
	}
	key := storage.Keys{RunID: d.RunID}.Email()
	if err := r.deps.Store.Put(ctx, key, []byte(body)); err != nil {
		return d, fmt.Errorf("put %s: %w", key, err)
	}
	d.Email = body
	return d, nil
}

// markComplete finishes the run row before writing the status marker, so a
// run whose row could not be finished never carries the marker.
func (r *Runner) markComplete(ctx context.Context, d *RunData) (*RunData, error) {
	if err := r.deps.Runs.FinishRun(ctx, d.RunID, constants.RunStatusCompleted, ""); err != nil {
		return d, err
	}
	key := storage.Keys{RunID: d.RunID}.Status()
	if err := r.deps.Store.Put(ctx, key, []byte(constants.StatusCompleted)); err != nil {
		return d, fmt.Errorf("put %s: %w", key, err)
	}
	return d, nil
}
