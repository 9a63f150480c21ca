package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/repository"
)

type stubAudits struct {
	rows []entity.AuditRecord
	err  error
	got  repository.AuditFilter
}

func (s *stubAudits) List(_ context.Context, f repository.AuditFilter) ([]entity.AuditRecord, error) {
	s.got = f
	return s.rows, s.err
}

func TestAuditRecordsXLSX(t *testing.T) {
	audits := &stubAudits{rows: []entity.AuditRecord{
		{RecordKey: "2024-01-15-Health#1", DateOfAudit: "2024-01-15", Clause: "3", Section: "Health",
			IssueType: "non-compliance", IssueTitle: "Fire exits blocked", ReportTimescale: "30 days",
			ReportExplanation: strings.Repeat("x", 600), ESGRating: "Critical", ESGTimescale: "30 days",
			ExactIssueTitle: "Yes", TimescalesMatch: "Yes"},
		{RecordKey: "2024-01-15-Health#2", IssueTitle: "No drills", ESGRating: "N/A"},
	}}

	data, err := NewService(audits, nil).AuditRecordsXLSX(context.Background(), "Acme Ltd", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, repository.AuditFilter{CompanyName: "Acme Ltd", KeyPrefix: "2024-01-15"}, audits.got)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{sheet}, f.GetSheetList())
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "Fire exits blocked", rows[1][5])
	assert.Equal(t, "Critical", rows[1][8])
	assert.Len(t, []rune(rows[1][7]), 500)
	assert.Equal(t, "No drills", rows[2][5])
}

func TestAuditRecordsXLSXEmpty(t *testing.T) {
	data, err := NewService(&stubAudits{}, nil).AuditRecordsXLSX(context.Background(), "Acme Ltd", "2024-01-15")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestAuditRecordsXLSXError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewService(&stubAudits{err: boom}, nil).AuditRecordsXLSX(context.Background(), "Acme Ltd", "2024-01-15")
	require.ErrorIs(t, err, boom)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "héé…", truncate("hééllo", 4))
}
