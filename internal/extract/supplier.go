// Package extract turns OCR output of the supplier-details pages into a supplier record.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/llm"
)

// Sampling for the key/value passes and the date rewrite.
const (
	kvTemperature   = 0.5
	kvTopP          = 0.1
	kvMaxTokens     = 1000
	dateMaxTokens   = 10
	parallelQueries = 4
)

type Options struct {
	TableModel string // smaller model for table markdown and the date rewrite
	PageModel  string // larger model for whole-page text
}

// Extractor implements SupplierExtractor with two model passes over the selected tables and pages.
type Extractor struct {
	llm    llm.Completer
	tables []TableSpec
	opts   Options
	log    *slog.Logger
}

func NewExtractor(c llm.Completer, tables []TableSpec, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: c, tables: tables, opts: opts, log: logger}
}

type passResult struct {
	name   string
	values map[string]string
}

func (e *Extractor) ExtractSupplier(ctx context.Context, doc entity.Document) (entity.SupplierRecord, error) {
	start := time.Now()
	runID := common.RunIDFromContext(ctx)
	e.log.Info("extract.supplier.start", "run_id", runID, "key", doc.Key, "pages", len(doc.Pages))

	sel := SelectTables(doc, e.tables, e.log)

	var tableJobs, pageJobs []TableSpec
	for _, spec := range e.tables {
		if _, ok := sel.Tables[spec.Name]; ok {
			tableJobs = append(tableJobs, spec)
		} else if _, ok := sel.Pages[spec.Name]; ok {
			pageJobs = append(pageJobs, spec)
		}
	}

	tableResults := make([]passResult, len(tableJobs))
	pageResults := make([]passResult, len(pageJobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelQueries)
	for i, spec := range tableJobs {
		g.Go(func() error {
			system := llm.TableExtractionSystem(sel.Tables[spec.Name].Markdown())
			vals, err := e.ask(gctx, e.opts.TableModel, system, spec)
			tableResults[i] = passResult{name: spec.Name, values: vals}
			return err
		})
	}
	for i, spec := range pageJobs {
		g.Go(func() error {
			system := llm.PageExtractionSystem(pageMarkdown(sel.Pages[spec.Name]))
			vals, err := e.ask(gctx, e.opts.PageModel, system, spec)
			pageResults[i] = passResult{name: spec.Name, values: vals}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		e.log.Error("extract.supplier.failed", "run_id", runID, "error", err)
		return entity.SupplierRecord{}, err
	}

	details := map[string]string{}
	merge := func(src map[string]string) {
		for k, v := range src {
			if nk := NormalizeKey(k); nk != "" {
				details[nk] = v
			}
		}
	}
	merge(formValues(doc))
	for _, r := range pageResults {
		merge(r.values)
	}
	for _, r := range tableResults {
		merge(r.values)
	}

	for _, key := range []string{KeyCompanyName, KeyDateOfAudit} {
		if strings.TrimSpace(details[key]) == "" {
			e.log.Error("extract.supplier.critical_missing", "run_id", runID, "key", key, "source", doc.Key)
			return entity.SupplierRecord{}, fmt.Errorf("%w: %s in %s", common.ErrCriticalField, key, doc.Key)
		}
	}

	company := NormalizeCompanyName(details[KeyCompanyName])
	if company == "" {
		return entity.SupplierRecord{}, fmt.Errorf("%w: %s in %s", common.ErrCriticalField, KeyCompanyName, doc.Key)
	}
	date, err := e.rewriteDate(ctx, details[KeyDateOfAudit])
	if err != nil {
		return entity.SupplierRecord{}, err
	}
	details[KeyCompanyName] = company
	details[KeyDateOfAudit] = date

	summaries := map[string]string{}
	for name, t := range sel.Tables {
		if s, err := tableSummary(t); err == nil {
			summaries[name] = s
		}
	}

	e.log.Info("extract.supplier.ok",
		"run_id", runID,
		"company_name", company,
		"audit_date", date,
		"fields", len(details),
		"tables", len(tableJobs),
		"pages", len(pageJobs),
		"missing", len(sel.Missing),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return entity.SupplierRecord{
		CompanyName:    company,
		AuditDate:      date,
		RunID:          runID,
		Details:        details,
		Tables:         summaries,
		ApprovalStatus: constants.ApprovalPending,
	}, nil
}

func (e *Extractor) ask(ctx context.Context, model, system string, spec TableSpec) (map[string]string, error) {
	raw, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Model:       model,
		System:      []string{system},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: strings.Join(spec.Queries, ", ")}},
		Temperature: kvTemperature,
		TopP:        kvTopP,
		MaxTokens:   kvMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", spec.Name, err)
	}
	body, err := llm.ParseResponse(raw)
	if err != nil {
		e.log.Error("extract.response.unparsed", "table", spec.Name, "raw", raw)
		return nil, fmt.Errorf("extract %s: %w", spec.Name, err)
	}
	vals, err := llm.DecodeKeyValues(body, e.log)
	if err != nil {
		e.log.Error("extract.response.undecoded", "table", spec.Name, "raw", raw)
		return nil, fmt.Errorf("extract %s: %w", spec.Name, err)
	}
	return vals, nil
}

// rewriteDate asks the model for an ISO-8601 form of s and keeps s when the answer does not parse.
func (e *Extractor) rewriteDate(ctx context.Context, s string) (string, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return s, nil
	}
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Model:       e.opts.TableModel,
		System:      []string{llm.DateRewriteSystem},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: s}},
		Temperature: kvTemperature,
		TopP:        kvTopP,
		MaxTokens:   dateMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("rewrite audit date: %w", err)
	}
	resp = strings.TrimSpace(resp)
	if _, err := time.Parse(time.DateOnly, resp); err != nil {
		e.log.Warn("extract.date.unparsed", "input", s, "answer", resp)
		return s, nil
	}
	return resp, nil
}

// formValues picks the supplier form fields out of the OCR key/value pairs. The
// first non-empty value per key wins; keys compare case-insensitively.
func formValues(doc entity.Document) map[string]string {
	fields := doc.FormFields()
	out := map[string]string{}
	for _, key := range FormKeys {
		for _, f := range fields {
			if strings.EqualFold(strings.TrimSpace(f.Key), key) && strings.TrimSpace(f.Value) != "" {
				out[key] = strings.TrimSpace(f.Value)
				break
			}
		}
	}
	return out
}

var (
	reKeyChars = regexp.MustCompile(`[^A-Za-z0-9 ]`)
	reNonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)
	reSpaces   = regexp.MustCompile(` +`)
)

// NormalizeKey strips everything but letters, digits and spaces and title-cases the rest.
func NormalizeKey(k string) string {
	// Casers are stateful; one per call.
	return cases.Title(language.Und).String(reKeyChars.ReplaceAllString(k, ""))
}

// NormalizeCompanyName turns every non-alphanumeric into a space and collapses runs.
func NormalizeCompanyName(s string) string {
	s = reNonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

func pageMarkdown(p entity.Page) string {
	parts := []string{strings.TrimSpace(p.Text)}
	for _, t := range p.Tables {
		parts = append(parts, t.Markdown())
	}
	return strings.Join(parts, "\n\n")
}

// tableSummary renders a table as {"columns": first row, "data": remaining rows}.
func tableSummary(t entity.Table) (string, error) {
	if len(t.Rows) == 0 {
		return "", fmt.Errorf("empty table")
	}
	texts := func(row []entity.Cell) []string {
		out := make([]string, len(row))
		for i, c := range row {
			out[i] = c.Text
		}
		return out
	}
	v := struct {
		Columns []string   `json:"columns"`
		Data    [][]string `json:"data"`
	}{Columns: texts(t.Rows[0]), Data: [][]string{}}
	for _, r := range t.Rows[1:] {
		v.Data = append(v.Data, texts(r))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
