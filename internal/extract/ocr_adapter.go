package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/ocr"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

// OCRAdapter loads a PDF from storage and runs it through an OCR analyzer.
type OCRAdapter struct {
	store    storage.Store
	analyzer ocr.Analyzer
	log      *slog.Logger
}

func NewOCRAdapter(store storage.Store, analyzer ocr.Analyzer, logger *slog.Logger) *OCRAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRAdapter{store: store, analyzer: analyzer, log: logger}
}

func (a *OCRAdapter) Load(ctx context.Context, key string) (entity.Document, error) {
	start := time.Now()
	pdf, err := a.store.Get(ctx, key)
	if err != nil {
		return entity.Document{}, fmt.Errorf("load %s: %w", key, err)
	}
	doc, err := a.analyzer.Analyze(ctx, pdf)
	if err != nil {
		a.log.Error("extract.ocr.failed", "key", key, "error", err)
		return entity.Document{}, fmt.Errorf("analyze %s: %w", key, err)
	}
	doc.Key = key
	a.log.Info("extract.ocr.ok",
		"key", key,
		"pages", len(doc.Pages),
		"tables", len(doc.Tables()),
		"form_fields", len(doc.FormFields()),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}
