// Package splitter cuts an audit report into a supplier-details PDF and one PDF
// per selected section.
package splitter

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/ocr"
	"github.com/joseph-ayodele/esg-compliance/internal/pdfdoc"
	"github.com/joseph-ayodele/esg-compliance/internal/sections"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

//go:embed supplier_pages.yaml
var defaultSupplierPages []byte

// LastSection decides what happens to the final configured section, which has
// no successor to bound its range.
type LastSection string

const (
	LastSectionExclude     LastSection = "exclude"
	LastSectionDocumentEnd LastSection = "document-end"
)

// PageTexter returns the text of every page of a PDF.
type PageTexter interface {
	PageTexts(ctx context.Context, pdf []byte) ([]string, error)
}

// AnalyzerTexts adapts an OCR analyzer to PageTexter.
type AnalyzerTexts struct {
	Analyzer ocr.Analyzer
}

func (a AnalyzerTexts) PageTexts(ctx context.Context, pdf []byte) ([]string, error) {
	doc, err := a.Analyzer.Analyze(ctx, pdf)
	if err != nil {
		return nil, err
	}
	return doc.Texts(), nil
}

// SectionRange is the page plan of one selected section.
type SectionRange struct {
	Name   string
	Clause string
	Pages  []int
}

// Plan is the full page plan of a report.
type Plan struct {
	PageCount     int
	SupplierPages []int
	Sections      []SectionRange // selected sections, configuration order
}

// SectionOutput is a written section PDF.
type SectionOutput struct {
	Name   string `json:"section"`
	Clause string `json:"clause"`
	Key    string `json:"key"`
	Pages  []int  `json:"pages"`
}

// Result lists the artifacts written for a run.
type Result struct {
	SupplierKey   string          `json:"supplier_key"`
	SupplierPages []int           `json:"supplier_pages"`
	Sections      []SectionOutput `json:"sections"`
}

type Options struct {
	// SupplierConfig overrides the embedded supplier section set.
	SupplierConfig []byte
	LastSection    LastSection
}

type Splitter struct {
	slicer   pdfdoc.Slicer
	texts    PageTexter
	store    storage.Store
	supplier sections.Config
	last     LastSection
	log      *slog.Logger
}

func New(slicer pdfdoc.Slicer, texts PageTexter, store storage.Store, opts Options, logger *slog.Logger) (*Splitter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw := opts.SupplierConfig
	if len(raw) == 0 {
		raw = defaultSupplierPages
	}
	supplier, err := sections.ParseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("supplier sections: %w", err)
	}
	if opts.LastSection == "" {
		opts.LastSection = LastSectionExclude
	}
	return &Splitter{
		slicer:   slicer,
		texts:    texts,
		store:    store,
		supplier: supplier,
		last:     opts.LastSection,
		log:      logger,
	}, nil
}

// LoadSupplierConfig reads an override file, or returns nil for the embedded default.
func LoadSupplierConfig(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read supplier sections %s: %w", path, err)
	}
	return b, nil
}

// Plan classifies the report pages and computes every page range without writing anything.
func (s *Splitter) Plan(ctx context.Context, pdf []byte, cfg sections.Config) (Plan, error) {
	for _, sec := range cfg.Sections {
		if err := sections.ValidateName(sec.Name); err != nil {
			return Plan{}, err
		}
	}
	texts, err := s.texts.PageTexts(ctx, pdf)
	if err != nil {
		return Plan{}, fmt.Errorf("page texts: %w", err)
	}
	count := len(texts)

	supplierCfg, err := sections.Classify(texts, s.supplier)
	if err != nil {
		return Plan{}, err
	}
	supplierPages := SupplierPages(supplierCfg, count)
	if len(supplierPages) == 0 {
		return Plan{}, fmt.Errorf("%w: unable to locate supplier details in report", common.ErrSectionUnresolved)
	}

	classified, err := sections.Classify(texts, cfg)
	if err != nil {
		return Plan{}, err
	}
	ranges := SectionRanges(classified, count, s.last)

	plan := Plan{PageCount: count, SupplierPages: supplierPages}
	for _, sec := range classified.Selected() {
		pages, ok := ranges[sec.Name]
		if !ok || len(pages) == 0 {
			return Plan{}, fmt.Errorf("%w: unable to locate %s in report", common.ErrSectionUnresolved, sec.Name)
		}
		plan.Sections = append(plan.Sections, SectionRange{Name: sec.Name, Clause: sec.Clause, Pages: pages})
	}
	return plan, nil
}

// Split plans the report and writes the supplier PDF and every section PDF for runID.
func (s *Splitter) Split(ctx context.Context, runID string, pdf []byte, cfg sections.Config) (Result, error) {
	start := time.Now()
	plan, err := s.Plan(ctx, pdf, cfg)
	if err != nil {
		s.log.Error("splitter.plan.failed", "run_id", runID, "error", err)
		return Result{}, err
	}
	s.log.Info("splitter.plan.ok",
		"run_id", runID,
		"pages", plan.PageCount,
		"supplier_pages", plan.SupplierPages,
		"sections", len(plan.Sections),
	)

	keys := storage.Keys{RunID: runID}
	res := Result{SupplierKey: keys.SupplierDetails(), SupplierPages: plan.SupplierPages}
	if err := s.write(ctx, pdf, plan.SupplierPages, res.SupplierKey); err != nil {
		return Result{}, err
	}
	for _, sec := range plan.Sections {
		key := keys.SectionPDF(sec.Name)
		if err := s.write(ctx, pdf, sec.Pages, key); err != nil {
			return Result{}, err
		}
		res.Sections = append(res.Sections, SectionOutput{Name: sec.Name, Clause: sec.Clause, Key: key, Pages: sec.Pages})
	}

	s.log.Info("splitter.split.ok",
		"run_id", runID,
		"sections", len(res.Sections),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Splitter) write(ctx context.Context, pdf []byte, pages []int, key string) error {
	out, err := s.slicer.Slice(ctx, pdf, pages)
	if err != nil {
		return fmt.Errorf("slice %s: %w", key, err)
	}
	if err := s.store.Put(ctx, key, out); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// SupplierPages unions the identified pages of every supplier section, adds the page
// after each, drops anything past the end of the document, and sorts the result.
func SupplierPages(classified sections.Config, pageCount int) []int {
	set := map[int]struct{}{}
	for _, sec := range classified.Sections {
		for _, p := range sec.Pages {
			for _, q := range []int{p, p + 1} {
				if q >= 0 && q < pageCount {
					set[q] = struct{}{}
				}
			}
		}
	}
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// SectionRanges maps each selected section to the end-exclusive range
// [min(own pages), max(next configured section's pages)). The successor is taken
// from the full configured order, selected or not. A section with no pages, or
// whose successor has none, gets no range. The last configured section only gets
// a range in document-end mode, running to pageCount.
func SectionRanges(classified sections.Config, pageCount int, mode LastSection) map[string][]int {
	out := map[string][]int{}
	n := len(classified.Sections)
	for i, cur := range classified.Sections {
		if !cur.Selected || len(cur.Pages) == 0 {
			continue
		}
		start := slices.Min(cur.Pages)
		var end int
		if i == n-1 {
			if mode != LastSectionDocumentEnd {
				continue
			}
			end = pageCount
		} else {
			next := classified.Sections[i+1]
			if len(next.Pages) == 0 {
				continue
			}
			end = slices.Max(next.Pages)
		}
		pages := make([]int, 0, max(end-start, 0))
		for p := start; p < end; p++ {
			pages = append(pages, p)
		}
		out[cur.Name] = pages
	}
	return out
}
