package entity

import (
	"time"

	"github.com/joseph-ayodele/esg-compliance/constants"
)

// WorkflowRun tracks one execution of the compliance pipeline for a run id.
type WorkflowRun struct {
	ID           string              `json:"id"`
	InputKey     string              `json:"input_key"`
	Status       constants.RunStatus `json:"status"`
	CurrentState string              `json:"current_state"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	CompanyName  string              `json:"company_name,omitempty"`
	AuditDate    string              `json:"audit_date,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// SectionRun holds the per-branch counts of a run.
type SectionRun struct {
	RunID        string                  `json:"run_id"`
	Section      string                  `json:"section"`
	Clause       string                  `json:"clause"`
	Status       constants.SectionStatus `json:"status"`
	Issues       int                     `json:"issues"`
	Observations int                     `json:"observations"`
	Exact        int                     `json:"exact"`
	Deferred     int                     `json:"deferred"`
	ErrorMessage *string                 `json:"error_message,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// SectionRunID is the primary key of a section row.
func SectionRunID(runID, section string) string {
	return runID + "/" + section
}
