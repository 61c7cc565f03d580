package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatchd/hostwatchd/pkg/observability"
)

type capture struct {
	events  []observability.Event
	metrics []observability.Metric
}

func (c *capture) reporter() observability.Reporter {
	return observability.ReporterFuncs{
		OnEvent:  func(_ context.Context, e observability.Event) { c.events = append(c.events, e) },
		OnMetric: func(m observability.Metric) { c.metrics = append(c.metrics, m) },
	}
}

func TestWebhookPostsTextPayload(t *testing.T) {
	var received webhookPayload
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := &capture{}
	notifier, err := NewWebhook(WebhookOptions{URL: server.URL, Reporter: rec.reporter()})
	require.NoError(t, err)

	delivery := notifier.Notify(context.Background(), "🚨 Service 'myapp' is DOWN")
	assert.True(t, delivery.Attempted)
	assert.True(t, delivery.Delivered)
	assert.NoError(t, delivery.Err)
	assert.Equal(t, http.StatusOK, delivery.StatusCode)
	assert.Equal(t, "🚨 Service 'myapp' is DOWN", received.Text)
	assert.Equal(t, "application/json", contentType)

	require.Len(t, rec.metrics, 1)
	assert.Equal(t, "delivered", rec.metrics[0].Labels["result"])
	require.Len(t, rec.events, 1)
	assert.Equal(t, observability.LevelInfo, rec.events[0].Level)
}

func TestWebhookNon2xxIsReportedNotReturned(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer server.Close()

	rec := &capture{}
	notifier, err := NewWebhook(WebhookOptions{URL: server.URL, Reporter: rec.reporter()})
	require.NoError(t, err)

	delivery := notifier.Notify(context.Background(), "disk low")
	assert.False(t, delivery.Delivered)
	assert.Error(t, delivery.Err)
	assert.Equal(t, http.StatusForbidden, delivery.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "failures must not be retried")

	require.Len(t, rec.events, 1)
	assert.Equal(t, observability.LevelError, rec.events[0].Level)
	assert.Equal(t, "failed", rec.metrics[0].Labels["result"])
}

func TestWebhookTimeoutIsBounded(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	notifier, err := NewWebhook(WebhookOptions{URL: server.URL, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	delivery := notifier.Notify(context.Background(), "service down")
	assert.Error(t, delivery.Err)
	assert.False(t, delivery.Delivered)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWebhookUnreachableEndpoint(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	notifier, err := NewWebhook(WebhookOptions{URL: endpoint, Timeout: time.Second})
	require.NoError(t, err)

	delivery := notifier.Notify(context.Background(), "agent crashed")
	assert.True(t, delivery.Attempted)
	assert.False(t, delivery.Delivered)
	assert.Error(t, delivery.Err)
}

func TestNewWithoutURLIsDisabled(t *testing.T) {
	notifier, err := New(WebhookOptions{URL: "  "})
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, notifier)

	delivery := notifier.Notify(context.Background(), "ignored")
	assert.False(t, delivery.Attempted)
	assert.NoError(t, delivery.Err)
}

func TestNewWebhookRejectsInvalidURLs(t *testing.T) {
	_, err := NewWebhook(WebhookOptions{URL: "ftp://hooks.example.com/x"})
	assert.Error(t, err)
	_, err = NewWebhook(WebhookOptions{URL: "://bad"})
	assert.Error(t, err)
}
