package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/ingest"
	"github.com/joseph-ayodele/esg-compliance/internal/issues"
	"github.com/joseph-ayodele/esg-compliance/internal/llm"
	"github.com/joseph-ayodele/esg-compliance/internal/reconcile"
	"github.com/joseph-ayodele/esg-compliance/internal/repository"
	"github.com/joseph-ayodele/esg-compliance/internal/splitter"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

const (
	runID    = "run-1"
	inputKey = "run-1/inputs/report.pdf"
)

const complianceConfig = `
Health:
  search_terms: ["health and safety"]
  selected: true
  clause: "3"
Wages:
  search_terms: ["wages and benefits"]
  selected: true
  clause: "5"
Hours:
  search_terms: ["working hours"]
`

type staticTexts []string

func (s staticTexts) PageTexts(context.Context, []byte) ([]string, error) { return s, nil }

var reportPages = staticTexts{
	"Site Details Site Name: Acme Mill", // 0
	"continued",                         // 1
	"Health and Safety findings",        // 2
	"Wages and Benefits findings",       // 3
	"Working hours",                     // 4
}

type pageSlicer struct{}

func (pageSlicer) Slice(_ context.Context, _ []byte, pages []int) ([]byte, error) {
	return []byte(fmt.Sprint(pages)), nil
}

func (pageSlicer) PageCount(context.Context, []byte) (int, error) { return len(reportPages), nil }

// keyedLoader returns the document registered for a storage key.
type keyedLoader map[string]entity.Document

func (l keyedLoader) Load(_ context.Context, key string) (entity.Document, error) {
	doc, ok := l[key]
	if !ok {
		return entity.Document{}, fmt.Errorf("%w: %s", common.ErrNotFound, key)
	}
	return doc, nil
}

func issueDoc(key string, fields ...entity.FormField) entity.Document {
	return entity.Document{Key: key, Pages: []entity.Page{{Index: 0, FormFields: fields}}}
}

func documents() keyedLoader {
	keys := storage.Keys{RunID: runID}
	return keyedLoader{
		keys.SupplierDetails(): {Key: keys.SupplierDetails()},
		keys.SectionPDF("Health"): issueDoc(keys.SectionPDF("Health"),
			entity.FormField{Key: "Issue Title", Value: "Fire exits blocked"},
			entity.FormField{Key: "30 days", Value: entity.SelectedValue},
			entity.FormField{Key: "Issue Title", Value: "Broken toilets"},
			entity.FormField{Key: "60 days", Value: entity.SelectedValue},
		),
		keys.SectionPDF("Wages"): issueDoc(keys.SectionPDF("Wages"),
			entity.FormField{Key: "Issue Title", Value: "Wages late"},
			entity.FormField{Key: "Immediate", Value: entity.SelectedValue},
		),
	}
}

type supplierFunc func(ctx context.Context) (entity.SupplierRecord, error)

func (f supplierFunc) ExtractSupplier(ctx context.Context, _ entity.Document) (entity.SupplierRecord, error) {
	return f(ctx)
}

func acme(context.Context) (entity.SupplierRecord, error) {
	return entity.SupplierRecord{
		CompanyName: "Acme Ltd",
		AuditDate:   "2024-01-15",
		Details:     map[string]string{"Site Name": "Acme Mill"},
	}, nil
}

const healthReply = `<response>
[
    ["non-compliance", "1 - Fire exits blocked", "30 days", "Two exits were locked"],
    ["non-compliance", "Broken toilets", "60 days", "Two of four toilets out of order"],
    ["observation", "No drills", "Other", "No fire drill records"]
]
</response>`

const wagesReply = `<response>
[["non-compliance", "Wages late", "Immediate", "Wages paid 10 days late"]]
</response>`

// sectionLLM answers by the issue titles present in the prompt.
type sectionLLM struct {
	wagesErr error
}

func (s sectionLLM) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	prompt := req.Messages[0].Content
	switch {
	case strings.Contains(prompt, "Fire exits blocked"):
		return healthReply, nil
	case strings.Contains(prompt, "Wages late"):
		if s.wagesErr != nil {
			return "", s.wagesErr
		}
		return wagesReply, nil
	}
	return "<response>[]</response>", nil
}

type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		switch {
		case strings.Contains(t, "toilet"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(t, "fire"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

type countingEmail struct{}

func (countingEmail) Generate(_ context.Context, s entity.SupplierRecord, rows []entity.AuditRecord) (string, error) {
	return fmt.Sprintf("Dear %s, %d findings", s.CompanyName, len(rows)), nil
}

type recordedApprovals struct {
	mu   sync.Mutex
	runs []string
}

func (r *recordedApprovals) RequestApproval(_ context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, runID)
	return nil
}

type recorder struct {
	mu       sync.Mutex
	resolved map[string]int
	outcomes []string
}

func (r *recorder) IssuesResolved(resolution string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved == nil {
		r.resolved = map[string]int{}
	}
	r.resolved[resolution] += n
}

func (r *recorder) RunFinished(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func strp(s string) *string { return &s }

type fixture struct {
	runner    *Runner
	store     *storage.MemoryStore
	runs      repository.RunRepository
	audits    repository.AuditRepository
	approvals *recordedApprovals
	recorder  *recorder
	sleeps    []time.Duration
}

type fixtureOptions struct {
	llm      sectionLLM
	supplier supplierFunc
	timeout  time.Duration
	config   string
	runs     func(repository.RunRepository) repository.RunRepository
}

func newFixture(t *testing.T, o fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "esg.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, repository.Migrate(ctx, db, nil))

	grading := repository.NewGradingRepository(db, nil)
	_, err = grading.UpsertMany(ctx, []entity.GradingReference{
		{RefKey: "1|Fire", IssueTitle: strp("Fire exits blocked"), UpdatedGrading: strp("Critical"), ResolutionWindow: strp("30 days")},
		{RefKey: "2|Wages", IssueTitle: strp("Wages late"), UpdatedGrading: strp("Major"), ResolutionWindow: strp("Immediate")},
		{RefKey: "3|Sanitation", IssueTitle: strp("Toilets insufficient"), UpdatedGrading: strp("Minor"), ResolutionWindow: strp("90 days")},
	})
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	keys := storage.Keys{RunID: runID}
	cfg := o.config
	if cfg == "" {
		cfg = complianceConfig
	}
	require.NoError(t, store.Put(ctx, keys.Config(), []byte(cfg)))
	require.NoError(t, store.Put(ctx, inputKey, []byte("%PDF-1.7")))

	if o.supplier == nil {
		o.supplier = acme
	}

	f := &fixture{
		store:     store,
		runs:      repository.NewRunRepository(db, nil),
		audits:    repository.NewAuditRepository(db, nil),
		approvals: &recordedApprovals{},
		recorder:  &recorder{},
	}
	var mu sync.Mutex
	sleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		f.sleeps = append(f.sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}

	runs := f.runs
	if o.runs != nil {
		runs = o.runs(runs)
	}

	split, err := splitter.New(pageSlicer{}, reportPages, store, splitter.Options{}, nil)
	require.NoError(t, err)
	matcher := reconcile.NewExactMatcher(grading, reconcile.DefaultThreshold, nil)
	f.runner, err = NewRunner(Deps{
		Store:      store,
		Splitter:   split,
		Loader:     documents(),
		Supplier:   o.supplier,
		Issues:     issues.NewExtractor(o.llm, matcher, f.audits, issues.Options{}, nil),
		Reconciler: reconcile.NewReconciler(keywordEmbedder{}, reconcile.NewMemoryCache("test", 0), "", nil),
		Email:      countingEmail{},
		Runs:       runs,
		Suppliers:  repository.NewSupplierRepository(db, nil),
		Audits:     f.audits,
		Grading:    grading,
		Approvals:  f.approvals,
	}, Config{
		MapConcurrency:   2,
		RunTimeout:       o.timeout,
		RetryMaxAttempts: 6,
		RetryInterval:    60 * time.Second,
		RetryBackoff:     2,
		Recorder:         f.recorder,
		Sleep:            sleep,
	}, nil)
	require.NoError(t, err)
	return f
}

func (f *fixture) sectionRows(t *testing.T, section string) []entity.AuditRecord {
	t.Helper()
	raw, err := f.store.Get(context.Background(), storage.Keys{RunID: runID}.SectionData(section))
	require.NoError(t, err)
	var rows []entity.AuditRecord
	require.NoError(t, json.Unmarshal(raw, &rows))
	return rows
}

func TestRun_CompletesAndWritesArtifacts(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	out, err := f.runner.Run(ctx, runID, inputKey)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", out.Supplier.CompanyName)
	require.Len(t, out.Branches, 2)

	status, err := f.store.Get(ctx, storage.Keys{RunID: runID}.Status())
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, string(status))

	email, err := f.store.Get(ctx, storage.Keys{RunID: runID}.Email())
	require.NoError(t, err)
	assert.Equal(t, "Dear Acme Ltd, 4 findings", string(email))

	health := f.sectionRows(t, "Health")
	require.Len(t, health, 3)
	byTitle := map[string]entity.AuditRecord{}
	for _, r := range health {
		assert.Equal(t, "3", r.Clause)
		byTitle[r.IssueTitle] = r
	}
	assert.Equal(t, "Critical", byTitle["Fire exits blocked"].ESGRating)
	assert.Equal(t, constants.FlagYes, byTitle["Fire exits blocked"].ExactIssueTitle)

	toilets := byTitle["Broken toilets"]
	assert.Equal(t, "Minor", toilets.ESGRating)
	assert.Equal(t, "90 days", toilets.ESGTimescale)
	assert.Equal(t, constants.FlagNo, toilets.ExactIssueTitle)
	assert.Equal(t, constants.FlagNo, toilets.TimescalesMatch)
	assert.Equal(t, runID, toilets.RunID)

	wages := f.sectionRows(t, "Wages")
	require.Len(t, wages, 1)
	assert.Equal(t, constants.FlagYes, wages[0].TimescalesMatch)

	run, err := f.runs.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusCompleted, run.Status)
	assert.Equal(t, "Acme Ltd", run.CompanyName)
	assert.Equal(t, StateMarkComplete, run.CurrentState)

	secs, err := f.runs.ListSections(ctx, runID)
	require.NoError(t, err)
	require.Len(t, secs, 2)
	for _, s := range secs {
		assert.Equal(t, constants.SectionStatusOK, s.Status, s.Section)
	}

	assert.Equal(t, []string{runID}, f.approvals.runs)
	assert.Equal(t, []string{string(constants.RunStatusCompleted)}, f.recorder.outcomes)
	assert.Equal(t, 2, f.recorder.resolved["exact"])
	assert.Equal(t, 1, f.recorder.resolved["fallback"])
	assert.Equal(t, 1, f.recorder.resolved["observation"])
	assert.Empty(t, f.sleeps)
}

func TestRun_ThrottledSectionIsCaught(t *testing.T) {
	f := newFixture(t, fixtureOptions{llm: sectionLLM{wagesErr: fmt.Errorf("429: %w", common.ErrThroughputExceeded)}})
	ctx := context.Background()

	_, err := f.runner.Run(ctx, runID, inputKey)
	require.NoError(t, err)

	assert.Len(t, f.sleeps, 6)
	assert.Equal(t, 60*time.Second, f.sleeps[0])
	assert.Equal(t, 1920*time.Second, f.sleeps[5])

	exists, err := f.store.Exists(ctx, storage.Keys{RunID: runID}.SectionData("Wages"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Len(t, f.sectionRows(t, "Health"), 3)

	secs, err := f.runs.ListSections(ctx, runID)
	require.NoError(t, err)
	statuses := map[string]constants.SectionStatus{}
	for _, s := range secs {
		statuses[s.Section] = s.Status
	}
	assert.Equal(t, constants.SectionStatusCaught, statuses["Wages"])
	assert.Equal(t, constants.SectionStatusOK, statuses["Health"])

	status, err := f.store.Get(ctx, storage.Keys{RunID: runID}.Status())
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, string(status))
}

func TestRun_SplitFailureMarksRunFailed(t *testing.T) {
	f := newFixture(t, fixtureOptions{config: `
Health:
  search_terms: ["health and safety"]
  selected: true
Missing:
  search_terms: ["not in this report"]
  selected: true
`})
	ctx := context.Background()

	_, err := f.runner.Run(ctx, runID, inputKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSectionUnresolved)

	exists, err := f.store.Exists(ctx, storage.Keys{RunID: runID}.Status())
	require.NoError(t, err)
	assert.False(t, exists)

	run, err := f.runs.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusFailed, run.Status)
	assert.Equal(t, StateSplit, run.CurrentState)
	require.NotNil(t, run.ErrorMessage)
	assert.Empty(t, f.approvals.runs)
	assert.Equal(t, []string{string(constants.RunStatusFailed)}, f.recorder.outcomes)
}

// finishFailingRuns refuses to record a completed run.
type finishFailingRuns struct {
	repository.RunRepository
}

func (r finishFailingRuns) FinishRun(ctx context.Context, runID string, status constants.RunStatus, errMsg string) error {
	if status == constants.RunStatusCompleted {
		return fmt.Errorf("finish run %s: connection reset", runID)
	}
	return r.RunRepository.FinishRun(ctx, runID, status, errMsg)
}

func TestRun_FinishFailureLeavesNoCompletedMarker(t *testing.T) {
	f := newFixture(t, fixtureOptions{runs: func(r repository.RunRepository) repository.RunRepository {
		return finishFailingRuns{RunRepository: r}
	}})
	ctx := context.Background()

	_, err := f.runner.Run(ctx, runID, inputKey)
	require.Error(t, err)

	exists, err := f.store.Exists(ctx, storage.Keys{RunID: runID}.Status())
	require.NoError(t, err)
	assert.False(t, exists)

	run, err := f.runs.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusFailed, run.Status)
	assert.Equal(t, StateMarkComplete, run.CurrentState)
	assert.Equal(t, []string{string(constants.RunStatusFailed)}, f.recorder.outcomes)
}

func TestRun_TimeoutMarksRunTimedOut(t *testing.T) {
	blocking := func(ctx context.Context) (entity.SupplierRecord, error) {
		<-ctx.Done()
		return entity.SupplierRecord{}, ctx.Err()
	}
	f := newFixture(t, fixtureOptions{supplier: blocking, timeout: 50 * time.Millisecond})
	ctx := context.Background()

	_, err := f.runner.Run(ctx, runID, inputKey)
	require.ErrorIs(t, err, common.ErrRunTimeout)

	run, err := f.runs.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusTimedOut, run.Status)
	assert.NotNil(t, run.FinishedAt)

	exists, err := f.store.Exists(ctx, storage.Keys{RunID: runID}.Status())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProcess_RejectsNonInputKey(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	err := f.runner.Process(context.Background(), ingest.Event{Key: "run-1/email/email.txt"})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.runs.GetRun(context.Background(), runID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestProcess_RunsUploadedReport(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	require.NoError(t, f.runner.Process(context.Background(), ingest.Event{Bucket: "reports", Key: inputKey}))

	run, err := f.runs.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusCompleted, run.Status)
	assert.Equal(t, inputKey, run.InputKey)
}
