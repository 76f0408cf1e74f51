package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSender_Send(t *testing.T) {
	id := uuid.New()
	var gotTo, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		body, _ := io.ReadAll(r.Body)
		_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
			if key == "to" {
				v, err := d.Str()
				gotTo = v
				return err
			}
			return d.Skip()
		})
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, time.Second)
	require.NoError(t, s.Send(context.Background(), Message{ID: id, To: "0100", Body: "hi"}))
	assert.Equal(t, "0100", gotTo)
	assert.Equal(t, id.String(), gotKey)
}

func TestWebhookSender_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "server error retried", status: http.StatusBadGateway, wantCalls: 4},
		{name: "throttled retried", status: http.StatusTooManyRequests, wantCalls: 4},
		{name: "client error permanent", status: http.StatusBadRequest, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			d := NewDeliverer(NewWebhookSender(srv.URL, time.Second), fastRetry)
			require.Error(t, d.Deliver(context.Background(), Task{ID: uuid.New(), Phone: "0100"}))
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestLogSender(t *testing.T) {
	require.NoError(t, LogSender{}.Send(context.Background(), Message{To: "0100", Body: "hi"}))
}
