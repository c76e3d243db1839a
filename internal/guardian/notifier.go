// Package guardian is the boundary to the human-facing escalation channel.
// The gateway calls Notify for every escalation; a failure here never stops
// the disclosure notice from reaching the student.
package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Notification carries what the Guardian workflow needs for follow-up.
type Notification struct {
	AlertID          string    `json:"alert_id"`
	SessionKey       string    `json:"session_key"`
	Channel          string    `json:"channel"`
	Message          string    `json:"message"`
	MatchedSignal    string    `json:"matched_signal"`
	DisclosureNotice string    `json:"disclosure_notice"`
	Timestamp        time.Time `json:"timestamp"`
}

// Notifier delivers escalation notifications. Notify returns once the
// receiver acknowledged the alert or the call failed.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// WebhookNotifier POSTs notifications as JSON to a configured endpoint and
// treats any 2xx response as the acknowledgement.
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     url,
		timeout: timeout,
		client:  http.DefaultClient,
	}
}

// SetClient overrides the HTTP client (for testing).
func (w *WebhookNotifier) SetClient(c *http.Client) {
	w.client = c
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("guardian webhook status %d", resp.StatusCode)
	}
	return nil
}

// NopNotifier is used when no webhook is configured: the escalation is still
// logged and disclosed in-session, there is just no external delivery.
type NopNotifier struct{}

func (NopNotifier) Notify(_ context.Context, n Notification) error {
	log.Printf("[guardian] no webhook configured, alert %s handled in-session only", n.AlertID)
	return nil
}
