package issues

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/llm"
	"github.com/joseph-ayodele/esg-compliance/internal/reconcile"
)

type cannedLLM struct {
	reply string
	err   error
	reqs  []llm.CompletionRequest
}

func (c *cannedLLM) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	c.reqs = append(c.reqs, req)
	return c.reply, c.err
}

type memAudits struct {
	mu   sync.Mutex
	rows map[string]entity.AuditRecord
	err  error
}

func (m *memAudits) Upsert(_ context.Context, rec entity.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.rows == nil {
		m.rows = map[string]entity.AuditRecord{}
	}
	m.rows[rec.CompanyName+"|"+rec.RecordKey] = rec
	return nil
}

// titleLookup returns every reference whose title contains the query.
type titleLookup []entity.GradingReference

func (l titleLookup) FindByTitle(_ context.Context, substr string) ([]entity.GradingReference, error) {
	var out []entity.GradingReference
	for _, r := range l {
		if strings.Contains(r.Title(), substr) {
			out = append(out, r)
		}
	}
	return out, nil
}

func strp(s string) *string { return &s }

func sectionDoc() entity.Document {
	return entity.Document{Key: "run-1/processing/Health_nc.pdf", Pages: []entity.Page{
		{
			Index: 0,
			Tables: []entity.Table{{Rows: [][]entity.Cell{
				{{Text: "Issue", Confidence: 99}, {Text: "Details", Confidence: 98}},
				{{Text: "Fire exits", Confidence: 97}, {Text: "Two exits locked", Confidence: 96}},
			}}},
			FormFields: []entity.FormField{
				{Key: "Issue Title", Value: "Fire exits blocked"},
				{Key: "30 days", Value: "SELECTED"},
				{Key: "60 days", Value: "NOT_SELECTED"},
			},
		},
		{
			Index: 1,
			FormFields: []entity.FormField{
				{Key: "Issue Title:", Value: "No drills"},
				{Key: "Issue Title", Value: ""},
				{Key: "Issue Title", Value: "Wages late"},
				{Key: "Immediate", Value: "SELECTED"},
			},
		},
	}}
}

const modelReply = `Here you go
<response>
[
    ["non-compliance", "1 - Fire exits blocked", "30 days", "Two exits were locked, unlocked on the day"],
    ["observation", "No drills", "Other", "No fire drill records"],
    ["non-compliance", "Wages late", "Immediate", "Wages paid 10 days late"],
    ["non-compliance", "Only three fields", "Other"],
    ["unknown-kind", "Something", "Other", "..."],
    ["good-example", "Clean canteen", "Other", "Canteen well kept"],
    ["non-compliance", "Excessive hours", "90 days", "72 hour weeks"],
    ["non-compliance", "Broken toilets", "60 days", "Two of four toilets out of order"]
]
</response>`

func newFixture(reply string) (*Extractor, *cannedLLM, *memAudits) {
	refs := titleLookup{
		{RefKey: "fire", IssueTitle: strp("Fire exits blocked"), UpdatedGrading: strp("Critical"), ResolutionWindow: strp("30 days")},
		{RefKey: "wages", IssueTitle: strp("Wages late"), UpdatedGrading: strp("Major"), ResolutionWindow: nil},
		{RefKey: "hours", IssueTitle: strp("Excessive hours"), UpdatedGrading: nil, ResolutionWindow: strp("90 days")},
	}
	c := &cannedLLM{reply: reply}
	audits := &memAudits{}
	x := NewExtractor(c, reconcile.NewExactMatcher(refs, reconcile.DefaultThreshold, nil), audits, Options{Model: "big"}, nil)
	return x, c, audits
}

var target = Target{Section: "Health", Clause: "3", CompanyName: "Acme Ltd", AuditDate: "2024-01-15"}

func TestIssuePairs(t *testing.T) {
	got := IssuePairs(sectionDoc())
	assert.Equal(t, []llm.IssuePair{
		{Title: "Fire exits blocked", Timescale: "30 days"},
		{Title: "No drills", Timescale: "Other"},
		{Title: "Wages late", Timescale: "Immediate"},
	}, got)
}

func TestStripOrdinal(t *testing.T) {
	tests := map[string]string{
		"1 - Fire exits blocked":  "Fire exits blocked",
		"12- Wages":               "Wages",
		"Anti-bribery policy":     "Anti-bribery policy",
		"A1 - Not numeric":        "A1 - Not numeric",
		"  plain title  ":         "plain title",
		"3 - Multi - dash title":  "Multi - dash title",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripOrdinal(in), in)
	}
}

func TestRecordKey(t *testing.T) {
	assert.Equal(t, "2024-01-15-Health#3", RecordKey("2024-01-15", "Health", 3))
}

func TestExtract_Dispatch(t *testing.T) {
	x, c, audits := newFixture(modelReply)
	ctx := common.WithRunID(context.Background(), "run-1")

	res, err := x.Extract(ctx, sectionDoc(), target)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Issues)
	assert.Equal(t, 2, res.Observations)
	assert.Equal(t, 3, res.Exact)
	assert.Equal(t, 2, res.Deferred)
	assert.Equal(t, 2, res.Skipped)

	require.Len(t, c.reqs, 1)
	req := c.reqs[0]
	assert.Equal(t, "big", req.Model)
	assert.Equal(t, 3000, req.MaxTokens)
	assert.Contains(t, req.Messages[0].Content, `["Fire exits blocked", "30 days"]`)
	assert.Contains(t, req.Messages[0].Content, "Table[1][1] = Two exits locked-96.00")

	fire := audits.rows["Acme Ltd|2024-01-15-Health#1"]
	assert.Equal(t, "Fire exits blocked", fire.IssueTitle)
	assert.Equal(t, "Critical", fire.ESGRating)
	assert.Equal(t, constants.FlagYes, fire.ExactIssueTitle)
	assert.Equal(t, constants.FlagYes, fire.TimescalesMatch)
	assert.Equal(t, "run-1", fire.RunID)
	assert.Equal(t, "3", fire.Clause)

	drills := audits.rows["Acme Ltd|2024-01-15-Health#2"]
	assert.Equal(t, string(constants.Observation), drills.IssueType)
	assert.Equal(t, constants.NotApplicable, drills.ReportTimescale)
	assert.Equal(t, constants.NotApplicable, drills.ESGRating)
	assert.Equal(t, constants.FlagNo, drills.ExactIssueTitle)

	wages := audits.rows["Acme Ltd|2024-01-15-Health#3"]
	assert.Equal(t, "Major", wages.ESGRating)
	assert.Equal(t, constants.NotApplicable, wages.ESGTimescale)
	assert.Equal(t, constants.NotApplicable, wages.TimescalesMatch)

	assert.NotContains(t, audits.rows, "Acme Ltd|2024-01-15-Health#4")
	assert.NotContains(t, audits.rows, "Acme Ltd|2024-01-15-Health#5")
	assert.Equal(t, string(constants.GoodExample), audits.rows["Acme Ltd|2024-01-15-Health#6"].IssueType)
	assert.Len(t, audits.rows, 4)

	require.Len(t, res.Unrated, 2)
	assert.Equal(t, "2024-01-15-Health#7", res.Unrated[0].RecordKey)
	assert.Equal(t, "Excessive hours", res.Unrated[0].Issue.Title)
	assert.Equal(t, "2024-01-15-Health#8", res.Unrated[1].RecordKey)
	assert.Equal(t, "Broken toilets", res.Unrated[1].Issue.Title)
	assert.Equal(t, "60 days", res.Unrated[1].Issue.ReportTimescale)
}

func TestExtract_NoPairsSkipsModel(t *testing.T) {
	x, c, audits := newFixture(modelReply)
	res, err := x.Extract(context.Background(), entity.Document{Pages: []entity.Page{{Text: "nothing"}}}, target)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, c.reqs)
	assert.Empty(t, audits.rows)
}

func TestExtract_Errors(t *testing.T) {
	t.Run("missing delimiter", func(t *testing.T) {
		x, _, _ := newFixture(`[["non-compliance", "a", "b", "c"]]`)
		_, err := x.Extract(context.Background(), sectionDoc(), target)
		assert.ErrorIs(t, err, common.ErrParse)
	})
	t.Run("throttled", func(t *testing.T) {
		x, c, _ := newFixture("")
		c.err = common.ErrThroughputExceeded
		_, err := x.Extract(context.Background(), sectionDoc(), target)
		assert.True(t, errors.Is(err, common.ErrThroughputExceeded))
	})
	t.Run("write failure", func(t *testing.T) {
		x, _, audits := newFixture(modelReply)
		audits.err = common.ErrDatabase
		_, err := x.Extract(context.Background(), sectionDoc(), target)
		assert.ErrorIs(t, err, common.ErrDatabase)
	})
}
