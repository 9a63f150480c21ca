package entity

import (
	"time"

	"github.com/joseph-ayodele/esg-compliance/constants"
)

// SupplierRecord holds the extracted supplier details of one audit.
// (CompanyName, AuditDate) is unique.
type SupplierRecord struct {
	ID              int64                    `json:"id,omitempty"`
	CompanyName     string                   `json:"company_name"`
	AuditDate       string                   `json:"audit_date"`
	RunID           string                   `json:"run_id"`
	Details         map[string]string        `json:"details"`
	Tables          map[string]string        `json:"tables,omitempty"` // table name -> {"columns","data"} JSON
	ApprovalStatus  constants.ApprovalStatus `json:"approval_status"`
	ApprovalToken   string                   `json:"approval_token,omitempty"`
	ApprovalVersion int                      `json:"approval_version"`
	EmailBody       string                   `json:"email_body,omitempty"`
	CreatedAt       time.Time                `json:"created_at,omitempty"`
	UpdatedAt       time.Time                `json:"updated_at,omitempty"`
}

// GradingReference is one row of the compliance grading table.
// ResolutionWindow is nil when the reference defines no remediation window.
type GradingReference struct {
	ID               int64             `json:"id,omitempty"`
	RefKey           string            `json:"ref_key"`
	IssueTitle       *string           `json:"issue_title,omitempty"`
	UpdatedGrading   *string           `json:"updated_grading,omitempty"`
	ResolutionWindow *string           `json:"resolution_window,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at,omitempty"`
}

// Title returns the issue title or "".
func (g GradingReference) Title() string {
	if g.IssueTitle == nil {
		return ""
	}
	return *g.IssueTitle
}

// Rating returns the grading and whether one is set.
func (g GradingReference) Rating() (string, bool) {
	if g.UpdatedGrading == nil || *g.UpdatedGrading == "" {
		return "", false
	}
	return *g.UpdatedGrading, true
}
