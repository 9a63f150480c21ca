// Package issues extracts findings from a section document, grades what it can against the
// reference table and persists the audit rows.
package issues

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/llm"
	"github.com/joseph-ayodele/esg-compliance/internal/reconcile"
)

const (
	issueTemperature = 0.5
	issueTopP        = 0.1
	issueMaxTokens   = 3000

	issueTitleKey = "Issue Title"
)

// Target identifies the section branch being processed.
type Target struct {
	Section     string `json:"section"`
	Clause      string `json:"clause"`
	CompanyName string `json:"company_name"`
	AuditDate   string `json:"audit_date"`
}

// Result holds the branch counts and the issues left for the fallback tier.
type Result struct {
	Issues       int                   `json:"count_issue"`
	Observations int                   `json:"count_observation"`
	Exact        int                   `json:"count_exact"`
	Deferred     int                   `json:"count_deferred"`
	Unrated      []entity.UnratedIssue `json:"unrated_issues,omitempty"`
	Skipped      int                   `json:"skipped,omitempty"`
}

// Matcher is the exact grading tier.
type Matcher interface {
	Match(ctx context.Context, title string) (*reconcile.Match, error)
}

// AuditWriter persists graded rows.
type AuditWriter interface {
	Upsert(ctx context.Context, rec entity.AuditRecord) error
}

type Options struct {
	Model   string           // model override for the issue pass
	Decoder llm.TupleDecoder // defaults to BracketDecoder then JSONDecoder
}

type Extractor struct {
	llm     llm.Completer
	matcher Matcher
	audits  AuditWriter
	model   string
	decoder llm.TupleDecoder
	log     *slog.Logger
}

func NewExtractor(c llm.Completer, matcher Matcher, audits AuditWriter, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	dec := opts.Decoder
	if dec == nil {
		dec = llm.FirstOf{llm.BracketDecoder{}, llm.JSONDecoder{}}
	}
	return &Extractor{llm: c, matcher: matcher, audits: audits, model: opts.Model, decoder: dec, log: logger}
}

// Extract reads the section's issue form, asks the model for categories and explanations,
// and writes every rated finding. Non-compliances without a usable grading are returned
// in Result.Unrated.
func (e *Extractor) Extract(ctx context.Context, doc entity.Document, t Target) (Result, error) {
	start := time.Now()
	runID := common.RunIDFromContext(ctx)
	log := e.log.With("run_id", runID, "section", t.Section, "clause", t.Clause)

	pairs := IssuePairs(doc)
	if len(pairs) == 0 {
		log.Info("issues.extract.empty", "pages", len(doc.Pages))
		return Result{}, nil
	}

	var lines []string
	for _, tbl := range doc.Tables() {
		lines = append(lines, tbl.Lines()...)
	}
	system, user := llm.IssueExtractionPrompts(pairs, lines)
	log.Info("issues.extract.start", "pairs", len(pairs), "table_lines", len(lines))

	raw, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Model:       e.model,
		System:      []string{system},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: user}},
		Temperature: issueTemperature,
		TopP:        issueTopP,
		MaxTokens:   issueMaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("issue extraction: %w", err)
	}
	body, err := llm.ParseResponse(raw)
	if err != nil {
		log.Error("issues.extract.parse_failed", "error", err, "raw", raw)
		return Result{}, err
	}
	tuples, err := e.decoder.Decode(body)
	if err != nil {
		log.Error("issues.extract.decode_failed", "error", err, "raw", raw)
		return Result{}, fmt.Errorf("decode issue tuples: %w", err)
	}

	res, err := e.dispatch(ctx, runID, tuples, t, log)
	if err != nil {
		return Result{}, err
	}
	log.Info("issues.extract.ok",
		"tuples", len(tuples),
		"issues", res.Issues,
		"observations", res.Observations,
		"exact", res.Exact,
		"deferred", res.Deferred,
		"skipped", res.Skipped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) dispatch(ctx context.Context, runID string, tuples [][]string, t Target, log *slog.Logger) (Result, error) {
	var res Result
	for i, tuple := range tuples {
		// ordinals count every tuple, skipped ones included
		key := RecordKey(t.AuditDate, t.Section, i+1)
		if len(tuple) != 4 {
			log.Warn("issues.tuple.malformed", "record_key", key, "fields", len(tuple))
			res.Skipped++
			continue
		}
		cat, ok := constants.ParseCategory(tuple[0])
		if !ok {
			log.Warn("issues.tuple.unknown_category", "record_key", key, "category", tuple[0])
			res.Skipped++
			continue
		}
		is := entity.Issue{
			Category:        cat,
			Title:           StripOrdinal(tuple[1]),
			ReportTimescale: tuple[2],
			Explanation:     tuple[3],
			Section:         t.Section,
			Clause:          t.Clause,
			CompanyName:     t.CompanyName,
			AuditDate:       t.AuditDate,
		}

		switch cat {
		case constants.NonCompliance:
			res.Issues++
			m, err := e.matcher.Match(ctx, is.Title)
			if err != nil {
				return res, err
			}
			if m == nil {
				log.Debug("issues.grading.miss", "record_key", key, "title", is.Title)
				res.Unrated = append(res.Unrated, entity.UnratedIssue{RecordKey: key, Issue: is})
				continue
			}
			res.Exact++
			if _, rated := m.Reference.Rating(); !rated {
				log.Debug("issues.grading.unrated", "record_key", key, "ref_key", m.Reference.RefKey)
				res.Unrated = append(res.Unrated, entity.UnratedIssue{RecordKey: key, Issue: is})
				continue
			}
			rec := reconcile.Apply(entity.NewAuditRecord(runID, key, is), m.Reference, true)
			if err := e.audits.Upsert(ctx, rec); err != nil {
				return res, fmt.Errorf("save %s: %w", key, err)
			}
		case constants.Observation, constants.GoodExample:
			res.Observations++
			is.ReportTimescale = constants.NotApplicable
			rec := entity.NewAuditRecord(runID, key, is)
			rec.ESGRating = constants.NotApplicable
			rec.ESGTimescale = constants.NotApplicable
			rec.ExactIssueTitle = constants.FlagNo
			rec.TimescalesMatch = constants.NotApplicable
			if err := e.audits.Upsert(ctx, rec); err != nil {
				return res, fmt.Errorf("save %s: %w", key, err)
			}
		}
	}
	res.Deferred = len(res.Unrated)
	return res, nil
}

// IssuePairs walks the form fields in reading order. An "Issue Title" field starts a new
// issue with the default timescale; a ticked timescale checkbox sets the current one.
func IssuePairs(doc entity.Document) []llm.IssuePair {
	var out []llm.IssuePair
	var cur *llm.IssuePair
	flush := func() {
		if cur != nil && cur.Title != "" {
			out = append(out, *cur)
		}
	}
	for _, f := range doc.FormFields() {
		k := strings.TrimSuffix(strings.TrimSpace(f.Key), ":")
		switch {
		case k == issueTitleKey:
			flush()
			cur = &llm.IssuePair{Title: strings.TrimSpace(f.Value), Timescale: constants.DefaultTimescale}
		case cur != nil && slices.Contains(constants.TimescaleOptions, k) && strings.TrimSpace(f.Value) == entity.SelectedValue:
			cur.Timescale = k
		}
	}
	flush()
	return out
}

var ordinalPrefix = regexp.MustCompile(`^\s*\d+\s*-`)

// StripOrdinal removes a leading "<digits> -" numbering from a title.
func StripOrdinal(title string) string {
	if loc := ordinalPrefix.FindStringIndex(title); loc != nil {
		return strings.TrimSpace(title[loc[1]:])
	}
	return strings.TrimSpace(title)
}

// RecordKey is the audit row key of the n-th finding (1-based) of a section.
func RecordKey(auditDate, section string, n int) string {
	return fmt.Sprintf("%s-%s#%d", auditDate, section, n)
}
