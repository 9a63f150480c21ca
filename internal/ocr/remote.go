package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

// RemoteAnalyzer submits the document to an HTTP document-analysis service that
// answers with the entity.Document JSON shape. Throttling surfaces as
// common.ErrThroughputExceeded.
type RemoteAnalyzer struct {
	endpoint string
	apiKey   string
	http     *http.Client
	schema   *jsonschema.Schema
	logger   *slog.Logger
}

func NewRemoteAnalyzer(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) (*RemoteAnalyzer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	schema, err := common.CompileSchema(documentSchema())
	if err != nil {
		return nil, err
	}
	return &RemoteAnalyzer{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		schema:   schema,
		logger:   logger,
	}, nil
}

func (r *RemoteAnalyzer) Analyze(ctx context.Context, pdf []byte) (entity.Document, error) {
	start := time.Now()
	body := map[string]any{
		"document": base64.StdEncoding.EncodeToString(pdf),
		"features": []string{"TABLES", "FORMS"},
	}
	headers := map[string]string{}
	if r.apiKey != "" {
		headers["Authorization"] = "Bearer " + r.apiKey
	}

	raw, status, err := common.SendJSON(ctx, r.http, r.endpoint, body, headers, r.logger)
	if err != nil {
		r.logger.Error("ocr.remote.http_error", "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return entity.Document{}, fmt.Errorf("remote analyze: %w", err)
	}
	if err := common.ValidateJSON(r.schema, raw); err != nil {
		r.logger.Error("ocr.remote.schema_validation_failed", "error", err, "raw", truncate(string(raw), 2048))
		return entity.Document{}, err
	}

	var doc entity.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entity.Document{}, fmt.Errorf("%w: decode document: %v", common.ErrParse, err)
	}
	for i := range doc.Pages {
		doc.Pages[i].Index = i
	}

	r.logger.Info("ocr.remote.ok",
		"pages", len(doc.Pages),
		"tables", len(doc.Tables()),
		"form_fields", len(doc.FormFields()),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

func documentSchema() map[string]any {
	cell := map[string]any{
		"type":     "object",
		"required": []string{"text"},
		"properties": map[string]any{
			"text":       map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
		},
	}
	table := map[string]any{
		"type":     "object",
		"required": []string{"rows"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"rows": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "array", "items": cell},
			},
		},
	}
	field := map[string]any{
		"type":     "object",
		"required": []string{"key", "value"},
		"properties": map[string]any{
			"key":        map[string]any{"type": "string"},
			"value":      map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
		},
	}
	page := map[string]any{
		"type":     "object",
		"required": []string{"text"},
		"properties": map[string]any{
			"index":       map[string]any{"type": "integer", "minimum": 0},
			"text":        map[string]any{"type": "string"},
			"tables":      map[string]any{"type": "array", "items": table},
			"form_fields": map[string]any{"type": "array", "items": field},
		},
	}
	return map[string]any{
		"type":     "object",
		"required": []string{"pages"},
		"properties": map[string]any{
			"pages": map[string]any{"type": "array", "items": page},
		},
	}
}
