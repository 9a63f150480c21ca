// Package grading loads the compliance grading reference table from CSV or XLSX uploads.
package grading

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

// Column headers with a dedicated field on GradingReference.
const (
	ColIssueTitle       = "Issue Title"
	ColUpdatedGrading   = "Updated Grading"
	ColResolutionWindow = "Resolution Window"
)

// DefaultKeyColumns form the natural key of a reference row.
var DefaultKeyColumns = []string{"No", "Category"}

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	aroundSlash = regexp.MustCompile(`\s*/\s*`)
	aroundDash  = regexp.MustCompile(`\s*-\s*`)
)

// Standardise collapses whitespace and removes spaces around '/' and '-'.
func Standardise(s string) string {
	s = spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	s = aroundSlash.ReplaceAllString(s, "/")
	return aroundDash.ReplaceAllString(s, "-")
}

// Upserter is the write side of the grading repository.
type Upserter interface {
	UpsertMany(ctx context.Context, refs []entity.GradingReference) (int, error)
}

// Summary reports one load.
type Summary struct {
	Source  string `json:"source"`
	Rows    int    `json:"rows"`
	Skipped int    `json:"skipped"`
	KeyedBy string `json:"keyed_by"`
}

type Loader struct {
	repo       Upserter
	keyColumns []string
	log        *slog.Logger
}

func NewLoader(repo Upserter, keyColumns []string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if len(keyColumns) == 0 {
		keyColumns = DefaultKeyColumns
	}
	return &Loader{repo: repo, keyColumns: keyColumns, log: logger}
}

// LoadKey reads an uploaded table from the store and upserts it.
func (l *Loader) LoadKey(ctx context.Context, store storage.Store, key string) (Summary, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	return l.Load(ctx, key, data)
}

// Load parses data by the extension of name and upserts every keyed row.
func (l *Loader) Load(ctx context.Context, name string, data []byte) (Summary, error) {
	start := time.Now()
	var (
		records [][]string
		err     error
	)
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".csv":
		records, err = ReadCSV(bytes.NewReader(data))
	case ".xlsx":
		records, err = ReadXLSX(bytes.NewReader(data))
	default:
		return Summary{}, fmt.Errorf("%w: unsupported grading file %q", common.ErrInvalidInput, name)
	}
	if err != nil {
		return Summary{}, err
	}

	refs, sum, err := Build(records, l.keyColumns)
	if err != nil {
		return Summary{}, err
	}
	sum.Source = name
	if len(refs) > 0 {
		if _, err := l.repo.UpsertMany(ctx, refs); err != nil {
			return sum, fmt.Errorf("upsert grading references: %w", err)
		}
	}
	l.log.Info("grading.load.ok",
		"source", name,
		"rows", sum.Rows,
		"skipped", sum.Skipped,
		"keyed_by", sum.KeyedBy,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return sum, nil
}

// ReadCSV returns the header row followed by the data rows.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", common.ErrInvalidInput, err)
	}
	return records, nil
}

// ReadXLSX returns the rows of the first sheet.
func ReadXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", common.ErrInvalidInput, err)
	}
	defer func() { _ = f.Close() }()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", common.ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %s: %v", common.ErrInvalidInput, sheets[0], err)
	}
	return rows, nil
}

// Build turns a header plus rows into references. The natural key is the
// configured key columns when all are present in the header, else the issue title.
// Rows with an empty key are skipped.
func Build(records [][]string, keyColumns []string) ([]entity.GradingReference, Summary, error) {
	if len(records) == 0 {
		return nil, Summary{}, fmt.Errorf("%w: grading table is empty", common.ErrInvalidInput)
	}
	header := make([]string, len(records[0]))
	index := map[string]int{}
	for i, h := range records[0] {
		h = strings.TrimSpace(strings.TrimLeft(h, "\ufeff"))
		header[i] = h
		if _, dup := index[h]; !dup && h != "" {
			index[h] = i
		}
	}

	keys := keyColumns
	for _, k := range keyColumns {
		if _, ok := index[k]; !ok {
			keys = []string{ColIssueTitle}
			break
		}
	}
	for _, k := range keys {
		if _, ok := index[k]; !ok {
			return nil, Summary{}, fmt.Errorf("%w: grading table has neither key columns %v nor %q",
				common.ErrInvalidInput, keyColumns, ColIssueTitle)
		}
	}

	sum := Summary{KeyedBy: strings.Join(keys, ",")}
	var refs []entity.GradingReference
	seen := map[string]int{}
	for _, rec := range records[1:] {
		values := map[string]*string{}
		for i, h := range header {
			if h == "" {
				continue
			}
			var v *string
			if i < len(rec) && rec[i] != "" {
				s := Standardise(rec[i])
				v = &s
			}
			values[h] = v
		}

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if values[k] == nil || *values[k] == "" {
				parts = nil
				break
			}
			parts = append(parts, *values[k])
		}
		if parts == nil {
			sum.Skipped++
			continue
		}

		ref := entity.GradingReference{
			RefKey:           strings.Join(parts, "|"),
			IssueTitle:       values[ColIssueTitle],
			UpdatedGrading:   values[ColUpdatedGrading],
			ResolutionWindow: values[ColResolutionWindow],
			Attributes:       map[string]string{},
		}
		for h, v := range values {
			switch h {
			case ColIssueTitle, ColUpdatedGrading, ColResolutionWindow:
				continue
			}
			if v != nil {
				ref.Attributes[h] = *v
			}
		}
		// later rows win, as a row-by-row put would
		if i, ok := seen[ref.RefKey]; ok {
			refs[i] = ref
			continue
		}
		seen[ref.RefKey] = len(refs)
		refs = append(refs, ref)
	}
	sum.Rows = len(refs)
	return refs, sum, nil
}
