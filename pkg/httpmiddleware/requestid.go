// Package httpmiddleware contains echo middleware shared by the API server.
package httpmiddleware

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HeaderRequestID carries the request identifier.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestID reuses a valid incoming X-Request-ID or generates a UUID, echoes
// it on the response and attaches lg, tagged with the id, to the request
// context.
//
// Incoming values must be at most 128 bytes of printable ASCII.
func RequestID(lg *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(HeaderRequestID)
			if !isValidRequestID(id) {
				id = uuid.New().String()
			}
			c.Response().Header().Set(HeaderRequestID, id)

			ctx := context.WithValue(req.Context(), requestIDKey{}, id)
			ctx = zctx.Base(ctx, lg.With(zap.String("request_id", id)))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func isValidRequestID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	for i := range len(id) {
		if id[i] < 0x20 || id[i] > 0x7E {
			return false
		}
	}
	return true
}
