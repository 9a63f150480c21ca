package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

func TestParseLayoutFormFields(t *testing.T) {
	text := `Company Name: Acme Textiles Ltd     Date of Audit: 12 March 2024
Site phone:   +44 1234 567

Issue Title: Fire exits blocked
[X] 30 days   [ ] 60 days   ☐ Immediate
Issue Title: No wage slips
☐ 30 days  ☒ 90 days
`
	_, fields := parseLayout(text, 100)

	want := []entity.FormField{
		{Key: "Company Name", Value: "Acme Textiles Ltd", Confidence: 100},
		{Key: "Date of Audit", Value: "12 March 2024", Confidence: 100},
		{Key: "Site phone", Value: "+44 1234 567", Confidence: 100},
		{Key: "Issue Title", Value: "Fire exits blocked", Confidence: 100},
		{Key: "30 days", Value: "SELECTED", Confidence: 100},
		{Key: "60 days", Value: "NOT_SELECTED", Confidence: 100},
		{Key: "Immediate", Value: "NOT_SELECTED", Confidence: 100},
		{Key: "Issue Title", Value: "No wage slips", Confidence: 100},
		{Key: "30 days", Value: "NOT_SELECTED", Confidence: 100},
		{Key: "90 days", Value: "SELECTED", Confidence: 100},
	}
	assert.Equal(t, want, fields)
}

func TestParseLayoutTables(t *testing.T) {
	text := `Workers Analysis
Worker type      Male     Female
Permanent        10       12
Temporary        3        4

Some paragraph text.
Another line
A    B
1    2
`
	tables, _ := parseLayout(text, 87.5)
	require.Len(t, tables, 2)

	assert.Equal(t, "Workers Analysis", tables[0].Title)
	require.Len(t, tables[0].Rows, 3)
	assert.Equal(t, "Female", tables[0].Rows[0][2].Text)
	assert.Equal(t, 87.5, tables[0].Rows[1][1].Confidence)

	assert.Equal(t, "Another line", tables[1].Title)
}

func TestParseLayoutIgnoresSingleRowTables(t *testing.T) {
	tables, _ := parseLayout("Heading\nA    B\n\nplain", 100)
	assert.Empty(t, tables)
}

func TestMeanTSVConfidence(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tFire\n" +
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t80\texit\n" +
		"4\t1\t1\t1\t1\t0\t0\t0\t10\t10\t-1\t\n"
	assert.InDelta(t, 85.0, meanTSVConfidence(tsv), 0.001)
	assert.Zero(t, meanTSVConfidence(""))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b\n\nc", Normalize("a\t  b  \r\n\n\n\nc  "))
}
