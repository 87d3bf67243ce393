package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartsafety/safetyvision/internal/errors"
)

const (
	// defaultWebhookTimeout is the default timeout for webhook HTTP requests
	defaultWebhookTimeout = 10 * time.Second

	// maxErrorBodySize limits error response body reading to prevent memory issues
	maxErrorBodySize = 1024
)

// WebhookProvider POSTs notifications as JSON to an HTTP endpoint.
type WebhookProvider struct {
	url    string
	client *http.Client
}

// NewWebhookProvider creates a webhook provider. A nil client gets a
// dedicated client with timeout applied.
func NewWebhookProvider(url string, timeout time.Duration, client *http.Client) (*WebhookProvider, error) {
	if url == "" {
		return nil, errors.Newf("webhook URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookProvider{url: url, client: client}, nil
}

func (p *WebhookProvider) Name() string { return "webhook" }

// Send posts n and treats any non-2xx status as a failure.
func (p *WebhookProvider) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "safetyvision")
	req.Header.Set("X-Safetyvision-Event", n.Event)

	resp, err := p.client.Do(req)
	if err != nil {
		category := errors.CategoryNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			category = errors.CategoryTimeout
		}
		return errors.New(fmt.Errorf("webhook request failed: %w", err)).
			Component("notification").
			Category(category).
			Context("provider", p.Name()).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return errors.Newf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)).
			Component("notification").
			Category(errors.CategoryIntegration).
			Context("provider", p.Name()).
			Context("status", resp.StatusCode).
			Build()
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p *WebhookProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
