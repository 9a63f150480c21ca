package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

// Table names.
const (
	TableWorkflowRuns      = "workflow_runs"
	TableSectionRuns       = "section_runs"
	TableSupplierRecords   = "supplier_records"
	TableAuditRecords      = "audit_records"
	TableGradingReferences = "grading_references"
)

func str(name string, size int64) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Size: size}
}

func nullStr(name string, size int64) *schema.Column {
	c := str(name, size)
	c.Nullable = true
	return c
}

func text(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Size: 1 << 20}
}

func ts(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeTime}
}

func nullTS(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeTime, Nullable: true}
}

func counter(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeInt, Default: 0}
}

func serial() *schema.Column {
	return &schema.Column{Name: "id", Type: field.TypeInt64, Increment: true}
}

func jsonCol(name string, nullable bool) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeJSON, Nullable: nullable}
}

var (
	workflowRunsColumns = []*schema.Column{
		str("id", 255),
		str("input_key", 1024),
		str("status", 32),
		str("current_state", 64),
		nullStr("error_message", 4096),
		str("company_name", 255),
		str("audit_date", 64),
		ts("started_at"),
		nullTS("finished_at"),
	}
	workflowRunsTable = &schema.Table{
		Name:       TableWorkflowRuns,
		Columns:    workflowRunsColumns,
		PrimaryKey: []*schema.Column{workflowRunsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "workflowrun_status_started_at", Columns: []*schema.Column{workflowRunsColumns[2], workflowRunsColumns[7]}},
		},
	}

	sectionRunsColumns = []*schema.Column{
		str("id", 512),
		str("run_id", 255),
		str("section", 255),
		str("clause", 64),
		str("status", 32),
		counter("issues"),
		counter("observations"),
		counter("exact"),
		counter("deferred"),
		nullStr("error_message", 4096),
		ts("updated_at"),
	}
	sectionRunsTable = &schema.Table{
		Name:       TableSectionRuns,
		Columns:    sectionRunsColumns,
		PrimaryKey: []*schema.Column{sectionRunsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "sectionrun_run_id", Columns: []*schema.Column{sectionRunsColumns[1]}},
		},
	}

	supplierRecordsColumns = []*schema.Column{
		serial(),
		str("company_name", 255),
		str("audit_date", 64),
		str("run_id", 255),
		jsonCol("details", false),
		jsonCol("tables", true),
		str("approval_status", 32),
		str("approval_token", 128),
		counter("approval_version"),
		text("email_body"),
		ts("created_at"),
		ts("updated_at"),
	}
	supplierRecordsTable = &schema.Table{
		Name:       TableSupplierRecords,
		Columns:    supplierRecordsColumns,
		PrimaryKey: []*schema.Column{supplierRecordsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "supplierrecord_company_name_audit_date", Unique: true, Columns: []*schema.Column{supplierRecordsColumns[1], supplierRecordsColumns[2]}},
			{Name: "supplierrecord_run_id", Columns: []*schema.Column{supplierRecordsColumns[3]}},
		},
	}

	auditRecordsColumns = []*schema.Column{
		serial(),
		str("company_name", 255),
		str("record_key", 512),
		str("run_id", 255),
		str("date_of_audit", 64),
		str("clause", 64),
		str("section", 255),
		str("issue_type", 32),
		text("issue_title"),
		str("report_timescale", 64),
		text("report_explanation"),
		str("esg_rating", 64),
		str("esg_timescale", 64),
		str("exact_issue_title", 8),
		str("timescales_match", 8),
		ts("created_at"),
	}
	auditRecordsTable = &schema.Table{
		Name:       TableAuditRecords,
		Columns:    auditRecordsColumns,
		PrimaryKey: []*schema.Column{auditRecordsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "auditrecord_company_name_record_key", Unique: true, Columns: []*schema.Column{auditRecordsColumns[1], auditRecordsColumns[2]}},
			{Name: "auditrecord_run_id", Columns: []*schema.Column{auditRecordsColumns[3]}},
		},
	}

	gradingReferencesColumns = []*schema.Column{
		serial(),
		{Name: "ref_key", Type: field.TypeString, Size: 512, Unique: true},
		{Name: "issue_title", Type: field.TypeString, Size: 1 << 20, Nullable: true},
		nullStr("updated_grading", 64),
		nullStr("resolution_window", 64),
		jsonCol("attributes", true),
		ts("updated_at"),
	}
	gradingReferencesTable = &schema.Table{
		Name:       TableGradingReferences,
		Columns:    gradingReferencesColumns,
		PrimaryKey: []*schema.Column{gradingReferencesColumns[0]},
	}

	// Tables lists every table in creation order.
	Tables = []*schema.Table{
		workflowRunsTable,
		sectionRunsTable,
		supplierRecordsTable,
		auditRecordsTable,
		gradingReferencesTable,
	}
)

func init() {
	sectionRunsTable.ForeignKeys = []*schema.ForeignKey{{
		Symbol:     "section_runs_workflow_runs_sections",
		Columns:    []*schema.Column{sectionRunsColumns[1]},
		RefColumns: []*schema.Column{workflowRunsColumns[0]},
		RefTable:   workflowRunsTable,
		OnDelete:   schema.Cascade,
	}}
}

// Migrate creates missing tables, columns and indexes. It never drops anything.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := schema.NewMigrate(db.drv)
	if err != nil {
		return fmt.Errorf("%w: migrate: %v", common.ErrDatabase, err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("repository.migrate.failed", "error", err)
		return fmt.Errorf("%w: migrate: %v", common.ErrDatabase, err)
	}
	logger.Info("repository.migrate.ok", "tables", len(Tables))
	return nil
}
