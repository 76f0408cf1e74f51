package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CreatePayRequest handles POST /pay-requests.
func (h *Handler) CreatePayRequest(c echo.Context) error {
	var req payRequestBody
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if req.Pill <= 0 {
		return fail(c, invalid("pill is required"))
	}
	ctx := c.Request().Context()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("pill.id", req.Pill))

	d, err := h.pills.Get(ctx, req.Pill)
	if err != nil {
		return fail(c, err)
	}
	if err := authorize(c, d.Pill.UserID); err != nil {
		return fail(c, err)
	}

	r, err := h.payments.Create(ctx, req.Pill, req.Reference)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, toPayRequestView(r))
}

// ApprovePayRequest handles POST /pay-requests/:id/apply and returns the
// paid pill.
func (h *Handler) ApprovePayRequest(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, err)
	}
	ctx := c.Request().Context()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("pay_request.id", id))

	a, err := h.payments.Approve(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	d, err := h.pills.Get(ctx, a.Pill.ID)
	if err != nil {
		// The payment is committed; answer with the state read under lock.
		zctx.From(ctx).Warn("Reload paid pill",
			zap.Int64("pill_id", a.Pill.ID),
			zap.Error(err),
		)
		return c.JSON(http.StatusOK, toApprovedView(a))
	}
	return c.JSON(http.StatusOK, toPillView(d))
}
