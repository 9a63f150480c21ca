package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Config for the OpenAI-compatible client.
type Config struct {
	APIKey         string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL        string        // default https://api.openai.com/v1
	Model          string        // chat model, e.g. "gpt-4o-mini"
	EmbeddingModel string        // e.g. "text-embedding-3-small"
	Timeout        time.Duration // http client timeout
}

// Observer receives one call per HTTP round trip; op is "complete" or "embed".
type Observer func(op, outcome string, elapsed time.Duration)

type Client struct {
	cfg     Config
	http    *http.Client
	log     *slog.Logger
	observe Observer
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     logger,
		observe: func(string, string, time.Duration) {},
	}
}

// WithObserver installs a hook called after every request.
func (c *Client) WithObserver(o Observer) *Client {
	if o != nil {
		c.observe = o
	}
	return c
}
