package email

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/llm"
)

type stubLLM struct {
	reply string
	err   error
	req   llm.CompletionRequest
}

func (s *stubLLM) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	s.req = req
	return s.reply, s.err
}

func records() []entity.AuditRecord {
	return []entity.AuditRecord{
		{IssueTitle: "Fire exits | blocked", ESGRating: "Critical", ESGTimescale: "30 days"},
		{IssueTitle: "No drills", ESGRating: constants.NotApplicable, ESGTimescale: constants.NotApplicable},
		{IssueTitle: "Wages late", ESGRating: "Major", ESGTimescale: constants.NotApplicable},
		{IssueTitle: " Excessive hours ", ESGRating: "Minor", ESGTimescale: "90 days"},
	}
}

func TestIssuesTable(t *testing.T) {
	want := "| NC | DETAILS | GRADING | TIMEFRAME |\n" +
		"| 1 | Fire exits / blocked | Critical | 30 days |\n" +
		"| 2 | Excessive hours | Minor | 90 days |"
	assert.Equal(t, want, IssuesTable(records()))
	assert.Equal(t, "", IssuesTable(records()[1:3]))
	assert.Equal(t, "", IssuesTable(nil))
}

func TestGenerate(t *testing.T) {
	s := &stubLLM{reply: "Sure!\n<format>\nGood afternoon,\n\nThanks.\n</format>"}
	g := NewGenerator(s, "small", nil)
	supplier := entity.SupplierRecord{
		CompanyName: "Acme Ltd",
		AuditDate:   "2024-01-15",
		Details:     map[string]string{"Audit Company Name": "Intertek"},
	}

	body, err := g.Generate(context.Background(), supplier, records())
	require.NoError(t, err)
	assert.Equal(t, "Good afternoon,\n\nThanks.", body)

	assert.Equal(t, "small", s.req.Model)
	require.Len(t, s.req.Messages, 5)
	var details map[string]string
	require.NoError(t, json.Unmarshal([]byte(s.req.Messages[2].Content), &details))
	assert.Equal(t, "Intertek", details["Audit Company Name"])
	assert.Equal(t, "Acme Ltd", details["Company Name"])
	assert.Contains(t, s.req.Messages[4].Content, "| 2 | Excessive hours | Minor | 90 days |")
}

func TestGenerate_NoIssuesAndRawFallback(t *testing.T) {
	s := &stubLLM{reply: "  Good afternoon, no tags here  "}
	g := NewGenerator(s, "", nil)

	body, err := g.Generate(context.Background(), entity.SupplierRecord{CompanyName: "Acme"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Good afternoon, no tags here", body)
	assert.Equal(t, llm.NoIssuesText, s.req.Messages[4].Content)
}

func TestGenerate_Error(t *testing.T) {
	s := &stubLLM{err: common.ErrThroughputExceeded}
	_, err := NewGenerator(s, "", nil).Generate(context.Background(), entity.SupplierRecord{}, nil)
	assert.ErrorIs(t, err, common.ErrThroughputExceeded)
}
