package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

type RunRepository interface {
	// StartRun creates the run row, or resets it when the run id is reused.
	StartRun(ctx context.Context, runID, inputKey string) error
	SetState(ctx context.Context, runID, state string) error
	SetSupplier(ctx context.Context, runID, companyName, auditDate string) error
	FinishRun(ctx context.Context, runID string, status constants.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*entity.WorkflowRun, error)
	ListRuns(ctx context.Context, limit int) ([]entity.WorkflowRun, error)

	SaveSection(ctx context.Context, s entity.SectionRun) error
	ListSections(ctx context.Context, runID string) ([]entity.SectionRun, error)
}

type runRepo struct {
	db  *DB
	log *slog.Logger
}

func NewRunRepository(db *DB, log *slog.Logger) RunRepository {
	if log == nil {
		log = slog.Default()
	}
	return &runRepo{db: db, log: log}
}

var runColumns = []string{
	"id", "input_key", "status", "current_state", "error_message",
	"company_name", "audit_date", "started_at", "finished_at",
}

func (r *runRepo) StartRun(ctx context.Context, runID, inputKey string) error {
	now := time.Now().UTC()
	q, args := r.db.builder().Insert(TableWorkflowRuns).
		Columns(runColumns...).
		Values(runID, inputKey, string(constants.RunStatusRunning), "", nil, "", "", now, nil).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := exec(ctx, r.db.drv, q, args); err != nil {
		r.log.Error("workflow_run start failed", "run_id", runID, "error", err)
		return err
	}
	r.log.Info("workflow_run started", "run_id", runID, "input_key", inputKey)
	return nil
}

func (r *runRepo) update(ctx context.Context, runID string, set func(*entsql.UpdateBuilder)) error {
	u := r.db.builder().Update(TableWorkflowRuns)
	set(u)
	q, args := u.Where(entsql.EQ("id", runID)).Query()
	n, err := exec(ctx, r.db.drv, q, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: workflow run %s", common.ErrNotFound, runID)
	}
	return nil
}

func (r *runRepo) SetState(ctx context.Context, runID, state string) error {
	return r.update(ctx, runID, func(u *entsql.UpdateBuilder) {
		u.Set("current_state", state)
	})
}

func (r *runRepo) SetSupplier(ctx context.Context, runID, companyName, auditDate string) error {
	return r.update(ctx, runID, func(u *entsql.UpdateBuilder) {
		u.Set("company_name", companyName).Set("audit_date", auditDate)
	})
}

func (r *runRepo) FinishRun(ctx context.Context, runID string, status constants.RunStatus, errMsg string) error {
	err := r.update(ctx, runID, func(u *entsql.UpdateBuilder) {
		u.Set("status", string(status)).Set("finished_at", time.Now().UTC())
		if errMsg != "" {
			u.Set("error_message", errMsg)
		} else {
			u.SetNull("error_message")
		}
	})
	if err != nil {
		r.log.Error("workflow_run finish failed", "run_id", runID, "status", status, "error", err)
		return err
	}
	r.log.Info("workflow_run finished", "run_id", runID, "status", status)
	return nil
}

func scanRun(rows *entsql.Rows) (entity.WorkflowRun, error) {
	var (
		run      entity.WorkflowRun
		status   string
		errMsg   sql.NullString
		finished sql.NullTime
	)
	err := rows.Scan(&run.ID, &run.InputKey, &status, &run.CurrentState, &errMsg,
		&run.CompanyName, &run.AuditDate, &run.StartedAt, &finished)
	if err != nil {
		return run, err
	}
	run.Status = constants.RunStatus(status)
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}

func (r *runRepo) GetRun(ctx context.Context, runID string) (*entity.WorkflowRun, error) {
	q, args := r.db.builder().Select(runColumns...).
		From(entsql.Table(TableWorkflowRuns)).
		Where(entsql.EQ("id", runID)).
		Query()
	var out *entity.WorkflowRun
	err := r.db.queryRows(ctx, q, args, func(rows *entsql.Rows) error {
		run, err := scanRun(rows)
		out = &run
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: workflow run %s", common.ErrNotFound, runID)
	}
	return out, nil
}

func (r *runRepo) ListRuns(ctx context.Context, limit int) ([]entity.WorkflowRun, error) {
	sel := r.db.builder().Select(runColumns...).
		From(entsql.Table(TableWorkflowRuns)).
		OrderBy(entsql.Desc("started_at"))
	if limit > 0 {
		sel.Limit(limit)
	}
	q, args := sel.Query()
	var out []entity.WorkflowRun
	err := r.db.queryRows(ctx, q, args, func(rows *entsql.Rows) error {
		run, err := scanRun(rows)
		out = append(out, run)
		return err
	})
	return out, err
}

var sectionColumns = []string{
	"id", "run_id", "section", "clause", "status",
	"issues", "observations", "exact", "deferred", "error_message", "updated_at",
}

func (r *runRepo) SaveSection(ctx context.Context, s entity.SectionRun) error {
	var errMsg any
	if s.ErrorMessage != nil {
		errMsg = *s.ErrorMessage
	}
	q, args := r.db.builder().Insert(TableSectionRuns).
		Columns(sectionColumns...).
		Values(entity.SectionRunID(s.RunID, s.Section), s.RunID, s.Section, s.Clause, string(s.Status),
			s.Issues, s.Observations, s.Exact, s.Deferred, errMsg, time.Now().UTC()).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := exec(ctx, r.db.drv, q, args); err != nil {
		r.log.Error("section_run save failed", "run_id", s.RunID, "section", s.Section, "error", err)
		return err
	}
	return nil
}

func (r *runRepo) ListSections(ctx context.Context, runID string) ([]entity.SectionRun, error) {
	q, args := r.db.builder().Select(sectionColumns...).
		From(entsql.Table(TableSectionRuns)).
		Where(entsql.EQ("run_id", runID)).
		OrderBy("section").
		Query()
	var out []entity.SectionRun
	err := r.db.queryRows(ctx, q, args, func(rows *entsql.Rows) error {
		var (
			s      entity.SectionRun
			id     string
			status string
			errMsg sql.NullString
		)
		if err := rows.Scan(&id, &s.RunID, &s.Section, &s.Clause, &status,
			&s.Issues, &s.Observations, &s.Exact, &s.Deferred, &errMsg, &s.UpdatedAt); err != nil {
			return err
		}
		s.Status = constants.SectionStatus(status)
		if errMsg.Valid {
			s.ErrorMessage = &errMsg.String
		}
		out = append(out, s)
		return nil
	})
	return out, err
}
