package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 response and logs it with a
// stack trace.
func Recovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				zctx.From(c.Request().Context()).Error("Panic recovered",
					zap.Any("panic", rec),
					zap.String("route", c.Path()),
					zap.Stack("stack"),
				)
				c.Response().Header().Set("Connection", "close")
				err = c.JSON(http.StatusInternalServerError, map[string]any{
					"code":    http.StatusInternalServerError,
					"error":   "internal",
					"message": "internal server error",
				})
			}()
			return next(c)
		}
	}
}
