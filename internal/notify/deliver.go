package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RetryConfig controls delivery retries.
type RetryConfig struct {
	MaxRetries      uint64        `default:"5"`
	InitialInterval time.Duration `default:"500ms"`
	MaxInterval     time.Duration `default:"30s"`
}

// Deliverer sends tasks through a Sender, retrying transient failures
// with exponential backoff.
type Deliverer struct {
	sender Sender
	retry  RetryConfig
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(sender Sender, retry RetryConfig) *Deliverer {
	return &Deliverer{sender: sender, retry: retry}
}

func (d *Deliverer) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if d.retry.InitialInterval > 0 {
		b.InitialInterval = d.retry.InitialInterval
	}
	if d.retry.MaxInterval > 0 {
		b.MaxInterval = d.retry.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, d.retry.MaxRetries), ctx)
}

// Deliver sends the task's message. It returns the last error once retries
// are exhausted or the error is permanent.
func (d *Deliverer) Deliver(ctx context.Context, t Task) error {
	lg := zctx.From(ctx).With(
		zap.Stringer("task_id", t.ID),
		zap.Int64("pill_id", t.PillID),
	)
	msg := t.Message()

	err := backoff.RetryNotify(
		func() error { return d.sender.Send(ctx, msg) },
		d.policy(ctx),
		func(err error, wait time.Duration) {
			lg.Warn("Notification attempt failed", zap.Error(err), zap.Duration("retry_in", wait))
		},
	)
	if err != nil {
		return errors.Wrap(err, "deliver notification")
	}
	lg.Debug("Notification delivered")
	return nil
}
