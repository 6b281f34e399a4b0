package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookClient forwards notifications to an external notification
// center over HTTP.
type WebhookClient struct {
	URL  string
	HTTP *http.Client
}

// NewWebhookClient returns nil when url is empty.
func NewWebhookClient(url string) *WebhookClient {
	if url == "" {
		return nil
	}
	return &WebhookClient{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one notification as JSON.
func (c *WebhookClient) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook error %s: %s", resp.Status, string(msg))
	}
	return nil
}
