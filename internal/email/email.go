// Package email drafts the supplier notification from the graded audit rows.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/llm"
)

const tableHeader = "| NC | DETAILS | GRADING | TIMEFRAME |"

// IssuesTable renders the graded non-conformances. Rows without a rating or an ESG
// timescale are left out. Returns "" when no row qualifies.
func IssuesTable(records []entity.AuditRecord) string {
	var b strings.Builder
	n := 0
	for _, r := range records {
		if r.ESGRating == constants.NotApplicable || r.ESGTimescale == constants.NotApplicable {
			continue
		}
		if r.ESGRating == "" || r.ESGTimescale == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n| %d | %s | %s | %s |",
			n, cell(r.IssueTitle), cell(r.ESGRating), cell(r.ESGTimescale))
	}
	if n == 0 {
		return ""
	}
	return tableHeader + b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "|", "/")
}

// Generator asks the model for the email body.
type Generator struct {
	llm   llm.Completer
	model string
	log   *slog.Logger
}

func NewGenerator(c llm.Completer, model string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: c, model: model, log: logger}
}

// Generate drafts the email for one audit. The body between <format> tags is returned;
// when the tags are missing the raw completion is used as is.
func (g *Generator) Generate(ctx context.Context, supplier entity.SupplierRecord, records []entity.AuditRecord) (string, error) {
	start := time.Now()
	runID := common.RunIDFromContext(ctx)

	details, err := json.Marshal(supplierPrompt(supplier))
	if err != nil {
		return "", fmt.Errorf("encode supplier details: %w", err)
	}
	table := IssuesTable(records)

	req := llm.EmailRequest(string(details), table)
	req.Model = g.model
	raw, err := g.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate email: %w", err)
	}
	body, err := llm.ParseTagged(raw, "format")
	if err != nil {
		g.log.Warn("email.generate.unparsed", "run_id", runID, "error", err)
		body = strings.TrimSpace(raw)
	}
	g.log.Info("email.generate.ok",
		"run_id", runID,
		"company", supplier.CompanyName,
		"records", len(records),
		"chars", len(body),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return body, nil
}

func supplierPrompt(s entity.SupplierRecord) map[string]string {
	out := make(map[string]string, len(s.Details)+2)
	for k, v := range s.Details {
		out[k] = v
	}
	out["Company Name"] = s.CompanyName
	out["Date Of Audit"] = s.AuditDate
	return out
}
