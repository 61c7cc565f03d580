package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hostwatchd/hostwatchd/pkg/observability"
)

// WebhookOptions configures a Webhook notifier.
type WebhookOptions struct {
	URL      string
	Timeout  time.Duration
	Reporter observability.Reporter
}

// Webhook posts {"text": message} to a Slack-compatible incoming webhook.
type Webhook struct {
	client   *resty.Client
	endpoint string
	timeout  time.Duration
	reporter observability.Reporter
}

type webhookPayload struct {
	Text string `json:"text"`
}

// NewWebhook validates the endpoint and builds a notifier. Retries stay
// disabled: each Notify performs exactly one request.
func NewWebhook(opts WebhookOptions) (*Webhook, error) {
	endpoint := strings.TrimSpace(opts.URL)
	if endpoint == "" {
		return nil, errors.New("webhook url must not be empty")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("webhook url must use http or https, got %q", parsed.Scheme)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = observability.NoopReporter{}
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")

	return &Webhook{
		client:   client,
		endpoint: endpoint,
		timeout:  timeout,
		reporter: reporter,
	}, nil
}

// New returns a Webhook for a non-empty url and Disabled otherwise.
func New(opts WebhookOptions) (Notifier, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return Disabled{}, nil
	}
	return NewWebhook(opts)
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, message string) (delivery Delivery) {
	if ctx == nil {
		ctx = context.Background()
	}
	delivery.Attempted = true
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			delivery.Err = fmt.Errorf("webhook delivery panicked: %v", r)
			delivery.Delivered = false
		}
		delivery.Duration = time.Since(start)
		w.record(ctx, message, delivery)
	}()

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{Text: message}).
		Post(w.endpoint)
	if err != nil {
		delivery.Err = fmt.Errorf("post webhook: %w", err)
		return delivery
	}

	delivery.StatusCode = resp.StatusCode()
	if !resp.IsSuccess() {
		delivery.Err = fmt.Errorf("webhook responded with %s", resp.Status())
		return delivery
	}
	delivery.Delivered = true
	return delivery
}

func (w *Webhook) record(ctx context.Context, message string, d Delivery) {
	result := "delivered"
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"duration_ms": d.Duration.Milliseconds(),
		"text":        message,
	}
	if d.StatusCode != 0 {
		fields["status_code"] = d.StatusCode
	}
	if d.Err != nil {
		result = "failed"
		level = observability.LevelError
		fields["error"] = d.Err.Error()
	}

	w.reporter.RecordMetric(observability.Metric{
		Name:        "notifications_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": result},
		Description: "Number of webhook notifications grouped by delivery result.",
	})

	msg := "notification sent"
	if d.Err != nil {
		msg = "failed to deliver notification"
	}
	w.reporter.RecordEvent(ctx, observability.Event{
		Level:     level,
		Component: "notifier",
		Event:     "notification",
		Message:   msg,
		Fields:    fields,
	})
}

var _ Notifier = (*Webhook)(nil)
