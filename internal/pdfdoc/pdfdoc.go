// Package pdfdoc slices PDFs into page subsets and reads per-page text.
package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// pdfcpu otherwise creates a config dir under the user's home on first use.
	api.DisableConfigDir()
}

// Slicer writes a new PDF holding only the given 0-based pages.
type Slicer interface {
	Slice(ctx context.Context, src []byte, pages []int) ([]byte, error)
	PageCount(ctx context.Context, src []byte) (int, error)
}

// TextReader returns one string per page, in order.
type TextReader interface {
	PageTexts(ctx context.Context, src []byte) ([]string, error)
}

// Tool implements Slicer with pdfcpu and TextReader with ledongthuc/pdf.
type Tool struct {
	log *slog.Logger
}

func New(logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{log: logger}
}

func conf() *model.Configuration {
	c := model.NewDefaultConfiguration()
	c.ValidationMode = model.ValidationRelaxed
	return c
}

func (t *Tool) PageCount(ctx context.Context, src []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := api.PageCount(bytes.NewReader(src), conf())
	if err != nil {
		return 0, fmt.Errorf("pdf page count: %w", err)
	}
	return n, nil
}

func (t *Tool) Slice(ctx context.Context, src []byte, pages []int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf slice: no pages selected")
	}
	sel := make([]string, len(pages))
	for i, p := range pages {
		if p < 0 {
			return nil, fmt.Errorf("pdf slice: negative page %d", p)
		}
		sel[i] = strconv.Itoa(p + 1)
	}

	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(src), &out, sel, conf()); err != nil {
		t.log.Error("pdfdoc.slice.failed", "pages", strings.Join(sel, ","), "error", err)
		return nil, fmt.Errorf("pdf slice: %w", err)
	}
	t.log.Debug("pdfdoc.slice.ok", "pages", len(pages), "bytes", out.Len())
	return out.Bytes(), nil
}

// PageTexts returns the embedded text layer. Pages without one come back empty.
func (t *Tool) PageTexts(ctx context.Context, src []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(src), int64(len(src)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	n := r.NumPage()
	out := make([]string, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			t.log.Warn("pdfdoc.text.page_failed", "page", i, "error", err)
			continue
		}
		out[i-1] = text
	}
	return out, nil
}
