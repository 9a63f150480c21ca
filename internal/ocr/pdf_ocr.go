package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// pdfToText returns one layout-preserved string per page.
func (a *LocalAnalyzer) pdfToText(ctx context.Context, path string) ([]string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := a.runner.Run(ctx, a.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}
	// Pages are separated by form feeds, with one trailing after the last page.
	pages := strings.Split(string(out), "\f")
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages, nil
}

// ocrPage rasterizes a single 1-based page and runs tesseract over it.
// It returns the text and the mean word confidence (0..100).
func (a *LocalAnalyzer) ocrPage(ctx context.Context, path string, pageNo int) (string, float64, error) {
	tmpDir, err := os.MkdirTemp(a.cfg.ArtifactCacheDir, "esg-pp-*")
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	prefix := filepath.Join(tmpDir, "page")
	n := strconv.Itoa(pageNo)
	// pdftoppm -r 300 -png -f n -l n <in.pdf> <tmp/page>
	_, errb, err := a.runner.Run(ctx, a.cfg.Pdftoppm, "-r", strconv.Itoa(a.cfg.DPI), "-png", "-f", n, "-l", n, path, prefix)
	if err != nil {
		return "", 0, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", 0, fmt.Errorf("pdftoppm produced no image for page %d", pageNo)
	}

	img := matches[0]
	out, errb, err := a.runner.Run(ctx, a.cfg.Tesseract, a.tesseractArgs(img)...)
	if err != nil {
		return "", 0, fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	text := reBoxNoise.ReplaceAllString(string(out), "")

	conf, err := a.tesseractConfidence(ctx, img)
	if err != nil {
		a.logger.Warn("ocr.confidence.failed", "page", pageNo, "error", err)
		conf = 0
	}
	return text, conf, nil
}

func (a *LocalAnalyzer) tesseractArgs(img string, extra ...string) []string {
	args := []string{img, "stdout", "-l", a.cfg.TesseractLang, "-c", "preserve_interword_spaces=1"}
	if a.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(a.cfg.PSM))
	}
	if a.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", a.cfg.TessdataDir)
	}
	return append(args, extra...)
}

// tesseractConfidence runs tesseract in TSV mode and returns the mean word confidence.
func (a *LocalAnalyzer) tesseractConfidence(ctx context.Context, img string) (float64, error) {
	out, errb, err := a.runner.Run(ctx, a.cfg.Tesseract, a.tesseractArgs(img, "tsv")...)
	if err != nil {
		return 0, fmt.Errorf("tesseract tsv: %w: %s", err, truncate(string(errb), 512))
	}
	return meanTSVConfidence(string(out)), nil
}

func meanTSVConfidence(tsv string) float64 {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		// conf is the 11th column; text the 12th.
		confStr := cols[10]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
