package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySender struct {
	mu       sync.Mutex
	failures int
	err      error
	sent     []Message
	calls    int
}

func (s *flakySender) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *flakySender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

var fastRetry = RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func TestDeliverer_RetriesTransientErrors(t *testing.T) {
	sender := &flakySender{failures: 2, err: errors.New("gateway down")}
	d := NewDeliverer(sender, fastRetry)

	require.NoError(t, d.Deliver(context.Background(), Task{Phone: "0100", PillNumber: "1"}))
	assert.Equal(t, 3, sender.calls)
	assert.Len(t, sender.Sent(), 1)
}

func TestDeliverer_GivesUp(t *testing.T) {
	sender := &flakySender{failures: 10, err: errors.New("gateway down")}
	d := NewDeliverer(sender, fastRetry)

	err := d.Deliver(context.Background(), Task{Phone: "0100"})
	require.Error(t, err)
	assert.Equal(t, 4, sender.calls)
}

func TestDeliverer_PermanentError(t *testing.T) {
	sender := &flakySender{failures: 10, err: backoff.Permanent(errors.New("bad number"))}
	d := NewDeliverer(sender, fastRetry)

	err := d.Deliver(context.Background(), Task{Phone: "0100"})
	require.Error(t, err)
	assert.Equal(t, 1, sender.calls)
}
