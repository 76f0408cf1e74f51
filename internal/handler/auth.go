package handler

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xenking/pillshop/internal/domain/auth"
)

// Authenticate attaches the principal of a valid bearer token to the
// request context. Requests without a token stay anonymous; a malformed or
// expired token is rejected.
func (h *Handler) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return next(c)
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return fail(c, errUnauthorized)
		}
		p, err := h.tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			return fail(c, errUnauthorized)
		}
		req := c.Request()
		c.SetRequest(req.WithContext(auth.WithPrincipal(req.Context(), p)))
		return next(c)
	}
}

// RequireUser rejects anonymous requests.
func RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := auth.FromContext(c.Request().Context()); !ok {
			return fail(c, errUnauthorized)
		}
		return next(c)
	}
}

// RequireAdmin rejects requests not made by an admin.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, ok := auth.FromContext(c.Request().Context())
		if !ok {
			return fail(c, errUnauthorized)
		}
		if !p.IsAdmin() {
			return fail(c, errForbidden)
		}
		return next(c)
	}
}

// authorize checks that the caller may act on a resource owned by ownerID.
func authorize(c echo.Context, ownerID *int64) error {
	p, ok := auth.FromContext(c.Request().Context())
	if p.CanAccess(ownerID) {
		return nil
	}
	if !ok {
		return errUnauthorized
	}
	return errForbidden
}
