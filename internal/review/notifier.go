package review

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

// Message is one notification published to reviewers.
type Message struct {
	Kind        string `json:"kind"` // "approval_request" | "confirmation"
	RunID       string `json:"run_id"`
	CompanyName string `json:"company_name"`
	AuditDate   string `json:"audit_date"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

const (
	KindApprovalRequest = "approval_request"
	KindConfirmation    = "confirmation"
)

// Notifier publishes review messages.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// LogNotifier writes messages to the log. Used when no webhook is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(_ context.Context, m Message) error {
	n.log.Info("review.notify",
		"kind", m.Kind,
		"run_id", m.RunID,
		"company", m.CompanyName,
		"audit_date", m.AuditDate,
		"subject", m.Subject,
		"body", m.Body,
	)
	return nil
}

// WebhookNotifier posts each message as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}, log: logger}
}

func (n *WebhookNotifier) Notify(ctx context.Context, m Message) error {
	_, code, err := common.SendJSON(ctx, n.client, n.url, m, nil, n.log)
	if err != nil {
		n.log.Error("review.webhook.failed", "run_id", m.RunID, "kind", m.Kind, "status", code, "error", err)
		return err
	}
	n.log.Info("review.webhook.ok", "run_id", m.RunID, "kind", m.Kind, "status", code)
	return nil
}
