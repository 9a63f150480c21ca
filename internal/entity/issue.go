package entity

import (
	"time"

	"github.com/joseph-ayodele/esg-compliance/constants"
)

// Issue is one finding decoded from the model's tuple output.
type Issue struct {
	Category        constants.IssueCategory `json:"category"`
	Title           string                  `json:"title"`
	ReportTimescale string                  `json:"report_timescale"`
	Explanation     string                  `json:"explanation"`
	Section         string                  `json:"section"`
	Clause          string                  `json:"clause"`
	CompanyName     string                  `json:"company_name"`
	AuditDate       string                  `json:"audit_date"`
}

// AuditRecord is the persisted, reconciled form of an Issue.
// (CompanyName, RecordKey) is unique.
type AuditRecord struct {
	ID                int64     `json:"id,omitempty"`
	CompanyName       string    `json:"company_name"`
	RecordKey         string    `json:"record_key"`
	RunID             string    `json:"run_id"`
	DateOfAudit       string    `json:"date_of_audit"`
	Clause            string    `json:"clause"`
	Section           string    `json:"section"`
	IssueType         string    `json:"issue_type"`
	IssueTitle        string    `json:"issue_title"`
	ReportTimescale   string    `json:"report_timescale"`
	ReportExplanation string    `json:"report_explanation"`
	ESGRating         string    `json:"esg_rating"`
	ESGTimescale      string    `json:"esg_timescale"`
	ExactIssueTitle   string    `json:"exact_issue_title"`
	TimescalesMatch   string    `json:"timescales_match"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
}

// UnratedIssue is a non-compliance finding deferred to the fallback tier.
type UnratedIssue struct {
	RecordKey string `json:"record_key"`
	Issue     Issue  `json:"issue"`
}

// NewAuditRecord copies the issue fields onto a record. Rating fields are left for the caller.
func NewAuditRecord(runID, recordKey string, is Issue) AuditRecord {
	return AuditRecord{
		CompanyName:       is.CompanyName,
		RecordKey:         recordKey,
		RunID:             runID,
		DateOfAudit:       is.AuditDate,
		Clause:            is.Clause,
		Section:           is.Section,
		IssueType:         string(is.Category),
		IssueTitle:        is.Title,
		ReportTimescale:   is.ReportTimescale,
		ReportExplanation: is.Explanation,
	}
}
