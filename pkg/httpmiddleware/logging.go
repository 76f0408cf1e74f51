package httpmiddleware

import (
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogRequests logs one line per completed request. Server errors are logged
// at error level, client errors at warn.
func LogRequests() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo render the error so the status is final.
				c.Error(err)
			}

			status := c.Response().Status
			level := zapcore.InfoLevel
			switch {
			case status >= 500:
				level = zapcore.ErrorLevel
			case status >= 400:
				level = zapcore.WarnLevel
			}

			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.Int64("bytes", c.Response().Size),
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			zctx.From(c.Request().Context()).Check(level, "Request").Write(fields...)
			return nil
		}
	}
}
