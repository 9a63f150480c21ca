package constants

// RunStatus is the canonical status for rows in workflow_run.
type RunStatus string

// Stable values (store these exact strings in DB).
const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusTimedOut  RunStatus = "TIMED_OUT"
)

// SectionStatus is stored on section_run rows.
type SectionStatus string

const (
	SectionStatusRunning SectionStatus = "RUNNING"
	SectionStatusOK      SectionStatus = "OK"
	SectionStatusCaught  SectionStatus = "CAUGHT" // ended in ErrorPass
	SectionStatusFailed  SectionStatus = "FAILED"
)

// ApprovalStatus is the human review outcome on a supplier record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

var RunStatuses = []string{
	string(RunStatusQueued), string(RunStatusRunning), string(RunStatusCompleted),
	string(RunStatusFailed), string(RunStatusTimedOut),
}

var SectionStatuses = []string{
	string(SectionStatusRunning), string(SectionStatusOK), string(SectionStatusCaught), string(SectionStatusFailed),
}

var ApprovalStatuses = []string{
	string(ApprovalPending), string(ApprovalApproved), string(ApprovalRejected),
}

// Flag values written on audit records.
const (
	FlagYes       = "Yes"
	FlagNo        = "No"
	NotApplicable = "N/A"
)

// DefaultTimescale is used when no remediation window box is ticked for an issue.
const DefaultTimescale = "Other"

// StatusCompleted is the literal body of the run completion marker.
const StatusCompleted = "completed"
