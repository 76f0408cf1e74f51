package notify

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Message is a text addressed to a phone number.
type Message struct {
	ID   uuid.UUID
	To   string
	Body string
}

// Sender delivers a message to its recipient.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

var (
	_ Sender = LogSender{}
	_ Sender = (*WebhookSender)(nil)
)

// LogSender writes messages to the context logger. Used when no SMS
// gateway is configured.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(ctx context.Context, m Message) error {
	zctx.From(ctx).Info("Notification",
		zap.Stringer("task_id", m.ID),
		zap.String("to", m.To),
		zap.String("body", m.Body),
	)
	return nil
}

// WebhookSender posts messages to an SMS gateway webhook.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender creates a sender posting to url.
func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send implements Sender. Client errors other than 429 are permanent.
func (s *WebhookSender) Send(ctx context.Context, m Message) error {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("id")
	e.Str(m.ID.String())
	e.FieldStart("to")
	e.Str(m.To)
	e.FieldStart("body")
	e.Str(m.Body)
	e.ObjEnd()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(e.Bytes()))
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.Errorf("webhook status %d", resp.StatusCode)
	default:
		return backoff.Permanent(errors.Errorf("webhook rejected message: status %d", resp.StatusCode))
	}
}
