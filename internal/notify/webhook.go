// Package notify delivers alert payloads to a Slack-compatible incoming
// webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/guardrail/internal/version"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 2048

// ErrNotConfigured is returned before any network activity when no webhook
// URL has been configured.
var ErrNotConfigured = errors.New("slack webhook URL not configured")

// DeliveryError describes a webhook call that did not return 2xx.
// StatusCode is zero when the request never got a response.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("webhook delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("webhook returned %d: %s", e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// WebhookSink posts payloads to a single webhook URL.
type WebhookSink struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewWebhookSink returns a sink posting to url with DefaultTimeout.
func NewWebhookSink(url string, log zerolog.Logger) *WebhookSink {
	return NewWebhookSinkWithClient(url, &http.Client{Timeout: DefaultTimeout}, log)
}

// NewWebhookSinkWithClient returns a sink that uses client for delivery.
func NewWebhookSinkWithClient(url string, client *http.Client, log zerolog.Logger) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: client,
		log:    log.With().Str("component", "notify").Logger(),
	}
}

// Configured reports whether a webhook URL is set.
func (s *WebhookSink) Configured() bool { return s.url != "" }

// Notify sends p in a single POST. Any 2xx status is success. Non-2xx
// responses and transport failures return a *DeliveryError; a missing URL
// returns ErrNotConfigured without attempting delivery.
func (s *WebhookSink) Notify(ctx context.Context, p Payload) error {
	if s.url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	s.log.Debug().Int("status", resp.StatusCode).Str("text", p.Text).Msg("webhook delivered")
	return nil
}
