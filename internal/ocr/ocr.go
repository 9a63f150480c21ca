package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

// Analyzer turns a PDF into pages of text, tables and form fields.
type Analyzer interface {
	Analyze(ctx context.Context, pdf []byte) (entity.Document, error)
}

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for pages without a text layer, default 300
	MaxPages      int    // 0 = no limit
	TessdataDir   string
	PSM           int // 6 suits uniform blocks of text; 0 keeps tesseract's default

	ArtifactCacheDir string
}

// LocalAnalyzer shells out to poppler and tesseract and recovers tables and
// form fields from the layout-preserved text.
type LocalAnalyzer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewLocalAnalyzer(cfg Config, logger *slog.Logger) *LocalAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.ArtifactCacheDir == "" {
		cfg.ArtifactCacheDir = os.TempDir()
	}
	return &LocalAnalyzer{cfg: cfg, runner: execRunner{log: logger}, logger: logger}
}

// WithRunner swaps the command runner; tests use it to stub the binaries.
func (a *LocalAnalyzer) WithRunner(r Runner) *LocalAnalyzer {
	a.runner = r
	return a
}

func (a *LocalAnalyzer) Analyze(ctx context.Context, pdf []byte) (entity.Document, error) {
	start := time.Now()

	if err := os.MkdirAll(a.cfg.ArtifactCacheDir, 0o755); err != nil {
		return entity.Document{}, fmt.Errorf("artifact dir: %w", err)
	}
	f, err := os.CreateTemp(a.cfg.ArtifactCacheDir, "esg-ocr-*.pdf")
	if err != nil {
		return entity.Document{}, fmt.Errorf("temp pdf: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil {
			a.logger.Warn("ocr.cleanup.failed", "path", path, "error", err)
		}
	}()
	if _, err := f.Write(pdf); err != nil {
		_ = f.Close()
		return entity.Document{}, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		return entity.Document{}, fmt.Errorf("close temp pdf: %w", err)
	}

	texts, err := a.pdfToText(ctx, path)
	if err != nil {
		return entity.Document{}, err
	}
	if a.cfg.MaxPages > 0 && len(texts) > a.cfg.MaxPages {
		texts = texts[:a.cfg.MaxPages]
	}

	doc := entity.Document{Pages: make([]entity.Page, len(texts))}
	ocrPages := 0
	for i, text := range texts {
		conf := 100.0
		if isBlank(text) {
			t, c, err := a.ocrPage(ctx, path, i+1)
			if err != nil {
				a.logger.Warn("ocr.page.fallback_failed", "page", i, "error", err)
			} else {
				text, conf = t, c
				ocrPages++
			}
		}
		tables, fields := parseLayout(text, conf)
		doc.Pages[i] = entity.Page{
			Index:      i,
			Text:       Normalize(text),
			Tables:     tables,
			FormFields: fields,
		}
	}

	a.logger.Info("ocr.analyze.ok",
		"pages", len(doc.Pages),
		"ocr_pages", ocrPages,
		"tables", len(doc.Tables()),
		"form_fields", len(doc.FormFields()),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}
