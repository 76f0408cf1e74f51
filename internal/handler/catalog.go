package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xenking/pillshop/internal/domain/coupon"
)

// GetProduct handles GET /products/:id.
func (h *Handler) GetProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, err)
	}
	p, err := h.prices.Price(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toProductView(p))
}

// ListShipping handles GET /shipping.
func (h *Handler) ListShipping(c echo.Context) error {
	rates, err := h.shipping.Rates(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toShippingViews(rates))
}

// IssueCoupon handles POST /coupons.
func (h *Handler) IssueCoupon(c echo.Context) error {
	var req issueCouponRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	issue := coupon.IssueRequest{
		Code:       req.Code,
		Percent:    req.Percent,
		ValidUntil: req.ValidUntil,
		Uses:       req.Uses,
	}
	if req.ValidFrom != nil {
		issue.ValidFrom = *req.ValidFrom
	}

	cp, err := h.coupons.Issue(c.Request().Context(), issue)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, toCouponView(cp))
}
