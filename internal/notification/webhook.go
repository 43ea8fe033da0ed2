package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookNotifier POSTs each notification as JSON to a URL.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier creates a notifier with a short timeout and two retries
// on transport errors and 5xx responses.
func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New().
		SetTimeout(5*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &WebhookNotifier{client: client, url: url}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, n *Notification) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(n).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook post: HTTP %d", resp.StatusCode())
	}
	return nil
}
