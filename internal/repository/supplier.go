package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

// ApprovalUpdate is a version-stamped change to the review fields of a supplier record.
type ApprovalUpdate struct {
	ID              int64
	ExpectedVersion int
	Status          constants.ApprovalStatus
	Token           *string // nil leaves the token untouched
	EmailBody       *string // nil leaves the body untouched
}

type SupplierRepository interface {
	// Save inserts the record or replaces the extracted fields of an existing one.
	// Replacing resets the review state and bumps the version, which invalidates
	// outstanding approval links.
	Save(ctx context.Context, rec entity.SupplierRecord) (*entity.SupplierRecord, error)
	Get(ctx context.Context, companyName, auditDate string) (*entity.SupplierRecord, error)
	GetByRun(ctx context.Context, runID string) (*entity.SupplierRecord, error)
	// UpdateApproval applies u only when the stored version still equals
	// u.ExpectedVersion, and returns common.ErrConflict otherwise.
	UpdateApproval(ctx context.Context, u ApprovalUpdate) (*entity.SupplierRecord, error)
}

type supplierRepo struct {
	db  *DB
	log *slog.Logger
}

func NewSupplierRepository(db *DB, log *slog.Logger) SupplierRepository {
	if log == nil {
		log = slog.Default()
	}
	return &supplierRepo{db: db, log: log}
}

var supplierColumns = []string{
	"id", "company_name", "audit_date", "run_id", "details", "tables",
	"approval_status", "approval_token", "approval_version", "email_body",
	"created_at", "updated_at",
}

func marshalMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: encode json: %v", common.ErrInvalidInput, err)
	}
	return string(b), nil
}

func unmarshalMap(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func scanSupplier(rows *entsql.Rows) (entity.SupplierRecord, error) {
	var (
		rec     entity.SupplierRecord
		details sql.NullString
		tables  sql.NullString
		status  string
	)
	err := rows.Scan(&rec.ID, &rec.CompanyName, &rec.AuditDate, &rec.RunID, &details, &tables,
		&status, &rec.ApprovalToken, &rec.ApprovalVersion, &rec.EmailBody, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	rec.ApprovalStatus = constants.ApprovalStatus(status)
	if rec.Details, err = unmarshalMap(details); err != nil {
		return rec, err
	}
	if rec.Tables, err = unmarshalMap(tables); err != nil {
		return rec, err
	}
	return rec, nil
}

func (r *supplierRepo) selectOne(ctx context.Context, ex dialect.ExecQuerier, where *entsql.Predicate) (*entity.SupplierRecord, error) {
	q, args := r.db.builder().Select(supplierColumns...).
		From(entsql.Table(TableSupplierRecords)).
		Where(where).
		OrderBy(entsql.Desc("updated_at")).
		Limit(1).
		Query()
	var out *entity.SupplierRecord
	err := query(ctx, ex, q, args, func(rows *entsql.Rows) error {
		rec, err := scanSupplier(rows)
		out = &rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *supplierRepo) Save(ctx context.Context, rec entity.SupplierRecord) (*entity.SupplierRecord, error) {
	details, err := marshalMap(rec.Details)
	if err != nil {
		return nil, err
	}
	tables, err := marshalMap(rec.Tables)
	if err != nil {
		return nil, err
	}
	key := entsql.And(entsql.EQ("company_name", rec.CompanyName), entsql.EQ("audit_date", rec.AuditDate))

	var saved *entity.SupplierRecord
	err = r.db.withTx(ctx, func(tx dialect.Tx) error {
		existing, err := r.selectOne(ctx, tx, key)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		var q string
		var args []any
		if existing == nil {
			q, args = r.db.builder().Insert(TableSupplierRecords).
				Columns(supplierColumns[1:]...).
				Values(rec.CompanyName, rec.AuditDate, rec.RunID, details, tables,
					string(constants.ApprovalPending), "", 0, "", now, now).
				Query()
		} else {
			q, args = r.db.builder().Update(TableSupplierRecords).
				Set("run_id", rec.RunID).
				Set("details", details).
				Set("tables", tables).
				Set("approval_status", string(constants.ApprovalPending)).
				Set("approval_token", "").
				Set("email_body", "").
				Set("approval_version", existing.ApprovalVersion+1).
				Set("updated_at", now).
				Where(entsql.EQ("id", existing.ID)).
				Query()
		}
		if _, err := exec(ctx, tx, q, args); err != nil {
			return err
		}
		saved, err = r.selectOne(ctx, tx, key)
		return err
	})
	if err != nil {
		r.log.Error("supplier_record save failed", "company_name", rec.CompanyName, "audit_date", rec.AuditDate, "error", err)
		return nil, err
	}
	r.log.Info("supplier_record saved", "id", saved.ID, "company_name", saved.CompanyName, "audit_date", saved.AuditDate, "version", saved.ApprovalVersion)
	return saved, nil
}

func (r *supplierRepo) Get(ctx context.Context, companyName, auditDate string) (*entity.SupplierRecord, error) {
	rec, err := r.selectOne(ctx, r.db.drv, entsql.And(entsql.EQ("company_name", companyName), entsql.EQ("audit_date", auditDate)))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: supplier record %s/%s", common.ErrNotFound, companyName, auditDate)
	}
	return rec, nil
}

func (r *supplierRepo) GetByRun(ctx context.Context, runID string) (*entity.SupplierRecord, error) {
	rec, err := r.selectOne(ctx, r.db.drv, entsql.EQ("run_id", runID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: supplier record for run %s", common.ErrNotFound, runID)
	}
	return rec, nil
}

func (r *supplierRepo) UpdateApproval(ctx context.Context, u ApprovalUpdate) (*entity.SupplierRecord, error) {
	b := r.db.builder().Update(TableSupplierRecords).
		Set("approval_status", string(u.Status)).
		Set("approval_version", u.ExpectedVersion+1).
		Set("updated_at", time.Now().UTC())
	if u.Token != nil {
		b.Set("approval_token", *u.Token)
	}
	if u.EmailBody != nil {
		b.Set("email_body", *u.EmailBody)
	}
	q, args := b.Where(entsql.And(
		entsql.EQ("id", u.ID),
		entsql.EQ("approval_version", u.ExpectedVersion),
	)).Query()

	n, err := exec(ctx, r.db.drv, q, args)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		r.log.Warn("supplier_record approval conflict", "id", u.ID, "expected_version", u.ExpectedVersion)
		return nil, fmt.Errorf("%w: supplier record %d is no longer at version %d", common.ErrConflict, u.ID, u.ExpectedVersion)
	}
	rec, err := r.selectOne(ctx, r.db.drv, entsql.EQ("id", u.ID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: supplier record %d", common.ErrNotFound, u.ID)
	}
	r.log.Info("supplier_record approval updated", "id", u.ID, "status", u.Status, "version", rec.ApprovalVersion)
	return rec, nil
}
