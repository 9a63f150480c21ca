package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/repository"
)

// AuditLister is the read side of the audit repository.
type AuditLister interface {
	List(ctx context.Context, f repository.AuditFilter) ([]entity.AuditRecord, error)
}

// Service produces XLSX bytes for audit record exports.
type Service struct {
	audits AuditLister
	logger *slog.Logger
}

func NewService(audits AuditLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{audits: audits, logger: logger}
}

const sheet = "Audit Records"

var headers = []string{
	"Record Key",
	"Date Of Audit",
	"Clause",
	"Section",
	"Issue Type",
	"Issue Title",
	"Report Timescale",
	"Report Explanation",
	"ESG Rating",
	"ESG Timescale",
	"Exact Issue Title",
	"Timescales Match",
}

func row(r entity.AuditRecord) []any {
	return []any{
		r.RecordKey,
		r.DateOfAudit,
		r.Clause,
		r.Section,
		r.IssueType,
		r.IssueTitle,
		r.ReportTimescale,
		truncate(r.ReportExplanation, 500),
		r.ESGRating,
		r.ESGTimescale,
		r.ExactIssueTitle,
		r.TimescalesMatch,
	}
}

// AuditRecordsXLSX returns a workbook with every audit row of one company and audit date.
func (s *Service) AuditRecordsXLSX(ctx context.Context, companyName, auditDate string) ([]byte, error) {
	start := time.Now()

	recs, err := s.audits.List(ctx, repository.AuditFilter{CompanyName: companyName, KeyPrefix: auditDate})
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, bold)

	for i, r := range recs {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := row(r)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 26) // record key
	_ = f.SetColWidth(sheet, "B", "D", 14)
	_ = f.SetColWidth(sheet, "E", "E", 16)
	_ = f.SetColWidth(sheet, "F", "F", 40) // title
	_ = f.SetColWidth(sheet, "G", "G", 16)
	_ = f.SetColWidth(sheet, "H", "H", 60) // explanation
	_ = f.SetColWidth(sheet, "I", "L", 16)
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"company", companyName,
		"audit_date", auditDate,
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
