// Package pipeline wires the compliance stages into the run and section state tables.
package pipeline

import (
	"context"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/issues"
	"github.com/joseph-ayodele/esg-compliance/internal/sections"
	"github.com/joseph-ayodele/esg-compliance/internal/splitter"
)

// Top-level states.
const (
	StateSplit                  = "Split"
	StateExtractSupplierDetails = "ExtractSupplierDetails"
	StateMapSections            = "MapSections"
	StateGenerateEmail          = "GenerateEmail"
	StateMarkComplete           = "MarkComplete"
	StateSuccess                = "Success"
)

// Section branch states.
const (
	StateExtractIssues          = "ExtractIssues"
	StateValidationChoice       = "ValidationChoice"
	StateReconcile              = "Reconcile"
	StateGetIssuesForDownstream = "GetIssuesForDownstream"
	StateErrorPass              = "ErrorPass"
)

// Machine names used in logs and metrics.
const (
	RunMachine     = "esg-compliance"
	SectionMachine = "section"
)

type Splitter interface {
	Split(ctx context.Context, runID string, pdf []byte, cfg sections.Config) (splitter.Result, error)
}

type DocumentLoader interface {
	Load(ctx context.Context, key string) (entity.Document, error)
}

type SupplierExtractor interface {
	ExtractSupplier(ctx context.Context, doc entity.Document) (entity.SupplierRecord, error)
}

type IssueExtractor interface {
	Extract(ctx context.Context, doc entity.Document, t issues.Target) (issues.Result, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, unrated []entity.UnratedIssue, refs []entity.GradingReference) ([]entity.AuditRecord, error)
}

type EmailGenerator interface {
	Generate(ctx context.Context, supplier entity.SupplierRecord, records []entity.AuditRecord) (string, error)
}

// ApprovalRequester starts human review of a completed run.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, runID string) error
}

// Recorder receives pipeline outcomes for metrics.
type Recorder interface {
	IssuesResolved(resolution string, n int)
	RunFinished(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) IssuesResolved(string, int) {}
func (nopRecorder) RunFinished(string)         {}

// RunData flows through the top-level machine.
type RunData struct {
	RunID    string
	InputKey string
	Config   sections.Config
	Split    splitter.Result
	Supplier entity.SupplierRecord
	Branches []*Branch
	Email    string
}

// Branch flows through the section machine.
type Branch struct {
	RunID   string
	Section splitter.SectionOutput
	Target  issues.Target
	Result  issues.Result
	Rated   int // rows written by the fallback tier
	Err     error
}
