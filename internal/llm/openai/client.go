package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/llm"
)

var (
	_ llm.Completer = (*Client)(nil)
	_ llm.Embedder  = (*Client)(nil)
)

// Complete implements llm.Completer over chat/completions.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	rid := uuid.New().String()
	ctx = common.WithRequestID(ctx, rid)
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	c.log.Info("llm.complete.start",
		"req_id", rid,
		"run_id", common.RunIDFromContext(ctx),
		"model", model,
		"temp", req.Temperature,
		"system_blocks", len(req.System),
		"messages", len(req.Messages),
	)

	messages := make([]map[string]any, 0, len(req.System)+len(req.Messages))
	for _, s := range req.System {
		messages = append(messages, map[string]any{"role": "system", "content": s})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{
		"model":       model,
		"temperature": req.Temperature,
		"messages":    messages,
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	raw, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		c.log.Error("llm.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		c.observe("complete", outcome(err), time.Since(start))
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.complete.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		c.observe("complete", "decode_error", time.Since(start))
		return "", fmt.Errorf("%w: decode openai response: %v", common.ErrParse, err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.complete.no_choices",
			"req_id", rid, "raw", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		c.observe("complete", "decode_error", time.Since(start))
		return "", fmt.Errorf("%w: no choices in openai response", common.ErrParse)
	}
	content := strings.TrimSpace(cc.Choices[0].Message.Content)

	c.log.Info("llm.complete.ok",
		"req_id", rid,
		"chars", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	c.observe("complete", "ok", time.Since(start))
	return content, nil
}

// Embed implements llm.Embedder over /embeddings.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	rid := uuid.New().String()
	ctx = common.WithRequestID(ctx, rid)
	start := time.Now()

	c.log.Info("llm.embed.start", "req_id", rid, "model", c.cfg.EmbeddingModel, "inputs", len(texts))

	raw, err := c.post(ctx, "/embeddings", map[string]any{
		"model": c.cfg.EmbeddingModel,
		"input": texts,
	})
	if err != nil {
		c.log.Error("llm.embed.http_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		c.observe("embed", outcome(err), time.Since(start))
		return nil, err
	}

	var er struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &er); err != nil {
		c.observe("embed", "decode_error", time.Since(start))
		return nil, fmt.Errorf("%w: decode embeddings: %v", common.ErrParse, err)
	}
	if len(er.Data) != len(texts) {
		c.observe("embed", "decode_error", time.Since(start))
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", common.ErrParse, len(er.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(out) {
			c.observe("embed", "decode_error", time.Since(start))
			return nil, fmt.Errorf("%w: embedding index %d out of range", common.ErrParse, d.Index)
		}
		out[d.Index] = d.Embedding
	}

	c.log.Info("llm.embed.ok", "req_id", rid, "inputs", len(texts),
		"elapsed_ms", time.Since(start).Milliseconds())
	c.observe("embed", "ok", time.Since(start))
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, status, err := common.SendJSON(ctx, c.http, url, body, headers, c.log)
	if err != nil {
		if status != 0 {
			return nil, fmt.Errorf("openai status %d: %s: %w", status, truncate(string(raw), 512), err)
		}
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	return raw, nil
}

func outcome(err error) string {
	if errors.Is(err, common.ErrThroughputExceeded) {
		return "throttled"
	}
	return "error"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
