package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xenking/pillshop/internal/domain/catalog"
	"github.com/xenking/pillshop/internal/domain/coupon"
	"github.com/xenking/pillshop/internal/domain/payment"
	"github.com/xenking/pillshop/internal/domain/pill"
	"github.com/xenking/pillshop/internal/domain/shipping"
)

// Machine-readable error kinds.
const (
	kindNotFound             = "not_found"
	kindValidation           = "validation_error"
	kindCouponNotFound       = "coupon_not_found"
	kindCouponAlreadyApplied = "coupon_already_applied"
	kindCouponExpired        = "coupon_expired"
	kindCouponExhausted      = "coupon_exhausted"
	kindAlreadyPaid          = "already_paid"
	kindAlreadyApplied       = "already_applied"
	kindInvalidTransition    = "invalid_transition"
	kindAddressLocked        = "address_locked"
	kindAddressRequired      = "address_required"
	kindUnauthorized         = "unauthorized"
	kindForbidden            = "forbidden"
	kindInternal             = "internal"
)

var (
	errUnauthorized = errors.New("authentication required")
	errForbidden    = errors.New("access denied")
	errValidation   = errors.New("invalid request")
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	kind   string
}

// errorTable is checked in order; the first errors.Is match wins.
var errorTable = []errorMapping{
	{errUnauthorized, http.StatusUnauthorized, kindUnauthorized},
	{errForbidden, http.StatusForbidden, kindForbidden},
	{errValidation, http.StatusBadRequest, kindValidation},

	{pill.ErrNotFound, http.StatusNotFound, kindNotFound},
	{coupon.ErrPillNotFound, http.StatusNotFound, kindNotFound},
	{payment.ErrPillNotFound, http.StatusNotFound, kindNotFound},
	{payment.ErrNotFound, http.StatusNotFound, kindNotFound},
	{catalog.ErrProductNotFound, http.StatusNotFound, kindNotFound},

	{coupon.ErrCouponNotFound, http.StatusBadRequest, kindCouponNotFound},
	{coupon.ErrCouponAlreadyApplied, http.StatusBadRequest, kindCouponAlreadyApplied},
	{coupon.ErrCouponExpired, http.StatusBadRequest, kindCouponExpired},
	{coupon.ErrCouponExhausted, http.StatusBadRequest, kindCouponExhausted},
	{coupon.ErrInvalidCoupon, http.StatusBadRequest, kindValidation},
	{coupon.ErrCodeTaken, http.StatusBadRequest, kindValidation},

	{payment.ErrAlreadyPaid, http.StatusBadRequest, kindAlreadyPaid},
	{payment.ErrAlreadyApplied, http.StatusBadRequest, kindAlreadyApplied},
	{payment.ErrAddressRequired, http.StatusBadRequest, kindAddressRequired},

	{pill.ErrInvalidTransition, http.StatusBadRequest, kindInvalidTransition},
	{pill.ErrAddressLocked, http.StatusBadRequest, kindAddressLocked},
	{pill.ErrInvalidAddress, http.StatusBadRequest, kindValidation},
	{pill.ErrInvalidItem, http.StatusBadRequest, kindValidation},
	{shipping.ErrUnknownRegion, http.StatusBadRequest, kindValidation},
}

// fail writes err as an ErrorResponse. Unknown errors become a logged 500
// without leaking their text.
func fail(c echo.Context, err error) error {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return writeError(c, m.status, m.kind, err.Error())
		}
	}
	zctx.From(c.Request().Context()).Error("Request failed",
		zap.String("route", c.Path()),
		zap.Error(err),
	)
	return writeError(c, http.StatusInternalServerError, kindInternal, "internal server error")
}

func writeError(c echo.Context, status int, kind, msg string) error {
	return c.JSON(status, ErrorResponse{Code: status, Error: kind, Message: msg})
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(errValidation, format, args...)
}
