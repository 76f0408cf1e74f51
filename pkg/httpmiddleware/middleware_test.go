package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := echo.New()
	e.Use(RequestID(zap.New(core)))

	var seen string
	e.GET("/", func(c echo.Context) error {
		ctx := c.Request().Context()
		seen = RequestIDFromContext(ctx)
		zctx.From(ctx).Info("inside")
		return c.NoContent(http.StatusOK)
	})

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "valid id kept", incoming: "abc-123", keep: true},
		{name: "missing id generated", incoming: ""},
		{name: "control chars replaced", incoming: "bad\x01id"},
		{name: "too long replaced", incoming: strings.Repeat("a", 129)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			got := rec.Header().Get(HeaderRequestID)
			require.NotEmpty(t, got)
			assert.Equal(t, got, seen)
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.NotEqual(t, tt.incoming, got)
			}
		})
	}

	entries := logs.FilterMessage("inside").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "abc-123", entries[0].ContextMap()["request_id"])
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestRecovery(t *testing.T) {
	e := echo.New()
	e.Use(Recovery())
	e.GET("/boom", func(echo.Context) error { panic("kaboom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"internal"`)
	assert.Equal(t, "close", rec.Header().Get("Connection"))
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	e := echo.New()
	e.Use(RequestID(zap.New(core)), LogRequests())
	e.GET("/pills/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/fail", func(echo.Context) error { return echo.NewHTTPError(http.StatusBadGateway, "upstream") })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pills/7", nil))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "/pills/:id", entries[0].ContextMap()["route"])
	assert.Equal(t, int64(http.StatusNoContent), entries[0].ContextMap()["status"])
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
}

func TestInstrument(t *testing.T) {
	mw, err := Instrument(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	e := echo.New()
	e.Use(mw)
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
