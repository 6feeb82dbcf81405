package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Notification is a supervisor-facing alert derived from a published event.
type Notification struct {
	EventType string          `json:"event_type"`
	Subject   string          `json:"subject"`
	StaffID   string          `json:"staff_id,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Severity  string          `json:"severity"`
	Details   json.RawMessage `json:"details"`
	At        time.Time       `json:"at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

// Notify performs no action.
func (NoopNotifier) Notify(context.Context, Notification) error { return nil }

// WebhookNotifier posts notifications to a webhook.
type WebhookNotifier struct {
	client *http.Client
	url    string
}

// NewWebhookNotifier constructs a WebhookNotifier.
func NewWebhookNotifier(endpoint string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
	}
}

// Notify posts n as JSON.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	resp, err := post(ctx, w.client, w.url, "", body)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
