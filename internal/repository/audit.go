package repository

import (
	"context"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

// AuditFilter narrows ListAudit. Empty fields match everything.
type AuditFilter struct {
	CompanyName string
	KeyPrefix   string // record key prefix, usually the audit date
	Clause      string
	RunID       string
}

type AuditRepository interface {
	// Upsert writes the record keyed by (company_name, record_key); a re-run overwrites it.
	Upsert(ctx context.Context, rec entity.AuditRecord) error
	List(ctx context.Context, f AuditFilter) ([]entity.AuditRecord, error)
}

type auditRepo struct {
	db  *DB
	log *slog.Logger
}

func NewAuditRepository(db *DB, log *slog.Logger) AuditRepository {
	if log == nil {
		log = slog.Default()
	}
	return &auditRepo{db: db, log: log}
}

var auditColumns = []string{
	"id", "company_name", "record_key", "run_id", "date_of_audit", "clause", "section",
	"issue_type", "issue_title", "report_timescale", "report_explanation",
	"esg_rating", "esg_timescale", "exact_issue_title", "timescales_match", "created_at",
}

func (r *auditRepo) Upsert(ctx context.Context, rec entity.AuditRecord) error {
	cols := auditColumns[1:]
	q, args := r.db.builder().Insert(TableAuditRecords).
		Columns(cols...).
		Values(rec.CompanyName, rec.RecordKey, rec.RunID, rec.DateOfAudit, rec.Clause, rec.Section,
			rec.IssueType, rec.IssueTitle, rec.ReportTimescale, rec.ReportExplanation,
			rec.ESGRating, rec.ESGTimescale, rec.ExactIssueTitle, rec.TimescalesMatch, time.Now().UTC()).
		OnConflict(
			entsql.ConflictColumns("company_name", "record_key"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range cols {
					if c != "created_at" {
						u.SetExcluded(c)
					}
				}
			}),
		).
		Query()
	if _, err := exec(ctx, r.db.drv, q, args); err != nil {
		r.log.Error("audit_record upsert failed", "company_name", rec.CompanyName, "record_key", rec.RecordKey, "error", err)
		return err
	}
	r.log.Debug("audit_record upserted", "company_name", rec.CompanyName, "record_key", rec.RecordKey, "issue_type", rec.IssueType)
	return nil
}

func (r *auditRepo) List(ctx context.Context, f AuditFilter) ([]entity.AuditRecord, error) {
	var preds []*entsql.Predicate
	if f.CompanyName != "" {
		preds = append(preds, entsql.EQ("company_name", f.CompanyName))
	}
	if f.KeyPrefix != "" {
		preds = append(preds, entsql.HasPrefix("record_key", f.KeyPrefix))
	}
	if f.Clause != "" {
		preds = append(preds, entsql.EQ("clause", f.Clause))
	}
	if f.RunID != "" {
		preds = append(preds, entsql.EQ("run_id", f.RunID))
	}
	sel := r.db.builder().Select(auditColumns...).
		From(entsql.Table(TableAuditRecords)).
		OrderBy("record_key")
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	q, args := sel.Query()

	var out []entity.AuditRecord
	err := r.db.queryRows(ctx, q, args, func(rows *entsql.Rows) error {
		var a entity.AuditRecord
		if err := rows.Scan(&a.ID, &a.CompanyName, &a.RecordKey, &a.RunID, &a.DateOfAudit, &a.Clause, &a.Section,
			&a.IssueType, &a.IssueTitle, &a.ReportTimescale, &a.ReportExplanation,
			&a.ESGRating, &a.ESGTimescale, &a.ExactIssueTitle, &a.TimescalesMatch, &a.CreatedAt); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}
