package httpmiddleware

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument records a request counter and a latency histogram per route.
// Place it inside LogRequests so the status is final.
func Instrument(meter metric.Meter) (echo.MiddlewareFunc, error) {
	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("Completed HTTP requests"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "requests counter")
	}
	duration, err := meter.Float64Histogram("http.server.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			attrs := metric.WithAttributes(
				attribute.String("http.route", route),
				attribute.String("http.method", c.Request().Method),
				attribute.String("http.status_code", strconv.Itoa(status)),
			)
			ctx := c.Request().Context()
			requests.Add(ctx, 1, attrs)
			duration.Record(ctx, time.Since(start).Seconds(), attrs)
			return err
		}
	}, nil
}
