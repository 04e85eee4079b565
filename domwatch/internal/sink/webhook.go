package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

// Webhook POSTs each envelope to a URL. Transport errors and 5xx answers
// are retried with exponential backoff; 4xx answers are not.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithRetries sets the number of retries after the first attempt. Default 3.
func WithRetries(n int) WebhookOption { return func(w *Webhook) { w.retries = n } }

// WithBackoff sets the first retry delay, doubled on each retry. Default 1s.
func WithBackoff(d time.Duration) WebhookOption { return func(w *Webhook) { w.backoff = d } }

// WithClient replaces the default client (10s timeout).
func WithClient(c *http.Client) WebhookOption { return func(w *Webhook) { w.client = c } }

func WithWebhookLogger(l *slog.Logger) WebhookOption { return func(w *Webhook) { w.logger = l } }

// NewWebhook returns a sink posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		backoff: time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, b mutation.Batch) error {
	return w.post(ctx, "batch", b)
}

func (w *Webhook) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	return w.post(ctx, "snapshot", snap)
}

func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

func (w *Webhook) post(ctx context.Context, typ string, v any) error {
	body, err := json.Marshal(envelope{Type: typ, Data: v})
	if err != nil {
		return fmt.Errorf("sink: webhook: marshal: %w", err)
	}

	var lastErr error
	delay := w.backoff
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("sink: webhook: %w", ctx.Err())
			}
			delay *= 2
		}

		retry, err := w.do(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		w.logger.Warn("sink: webhook attempt failed", "url", w.url, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("sink: webhook: retries exhausted: %w", lastErr)
}

func (w *Webhook) do(ctx context.Context, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("sink: webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("sink: webhook: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("sink: webhook: status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("sink: webhook: status %d", resp.StatusCode)
	}
}
