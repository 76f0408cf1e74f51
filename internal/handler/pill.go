package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/pillshop/internal/domain/auth"
	"github.com/xenking/pillshop/internal/domain/pill"
)

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("malformed id %q", c.Param("id"))
	}
	return id, nil
}

func bind(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return invalid("malformed body")
	}
	return nil
}

// loadPill fetches the pill named in the path and checks the caller may
// access it.
func (h *Handler) loadPill(c echo.Context) (*pill.Detail, error) {
	id, err := pathID(c)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(c.Request().Context()).SetAttributes(attribute.Int64("pill.id", id))

	d, err := h.pills.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if err := authorize(c, d.Pill.UserID); err != nil {
		return nil, err
	}
	return d, nil
}

// CreatePill handles POST /pills.
func (h *Handler) CreatePill(c echo.Context) error {
	var req createPillRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}

	var owner *int64
	if p, ok := auth.FromContext(c.Request().Context()); ok {
		id := p.UserID
		owner = &id
		if req.User != nil && p.IsAdmin() {
			owner = req.User
		}
	} else if req.User != nil {
		return fail(c, errUnauthorized)
	}

	items := make([]pill.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = pill.Item{
			ProductID: it.Product,
			Quantity:  it.Quantity,
			Size:      pill.Size(it.Size),
			Color:     it.Color,
		}
	}

	d, err := h.pills.Create(c.Request().Context(), owner, items)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, toPillView(d))
}

// ListPills handles GET /pills: the caller's latest pills.
func (h *Handler) ListPills(c echo.Context) error {
	p, _ := auth.FromContext(c.Request().Context())
	details, err := h.pills.ListByUser(c.Request().Context(), p.UserID)
	if err != nil {
		return fail(c, err)
	}
	out := make([]pillView, len(details))
	for i := range details {
		out[i] = toPillView(&details[i])
	}
	return c.JSON(http.StatusOK, out)
}

// GetPill handles GET /pills/:id.
func (h *Handler) GetPill(c echo.Context) error {
	d, err := h.loadPill(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toPillView(d))
}

// ApplyCoupon handles PATCH /pills/:id/coupon.
func (h *Handler) ApplyCoupon(c echo.Context) error {
	current, err := h.loadPill(c)
	if err != nil {
		return fail(c, err)
	}
	var req applyCouponRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	trace.SpanFromContext(c.Request().Context()).SetAttributes(attribute.String("coupon.code", req.Coupon))

	d, err := h.pills.ApplyCoupon(c.Request().Context(), current.Pill.ID, req.Coupon)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toQuoteView(d.Quote))
}

// AttachAddress handles POST and PUT /pills/:id/address.
func (h *Handler) AttachAddress(c echo.Context) error {
	current, err := h.loadPill(c)
	if err != nil {
		return fail(c, err)
	}
	var req addressBody
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}

	d, err := h.pills.AttachAddress(c.Request().Context(), current.Pill.ID, req.domain())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toPillView(d))
}

// UpdateStatus handles PATCH /pills/:id/status.
func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, err)
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	to, err := pill.ParseStatus(req.Status)
	if err != nil {
		return fail(c, err)
	}

	d, err := h.pills.UpdateStatus(c.Request().Context(), id, to)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toPillView(d))
}
