// Package handler exposes the pill shop over REST using echo.
package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xenking/pillshop/internal/domain/auth"
	"github.com/xenking/pillshop/internal/domain/coupon"
	"github.com/xenking/pillshop/internal/domain/payment"
	"github.com/xenking/pillshop/internal/domain/pill"
	"github.com/xenking/pillshop/internal/domain/pricing"
	"github.com/xenking/pillshop/internal/domain/shipping"
)

// PillService is the pill lifecycle used by the handlers.
type PillService interface {
	Create(ctx context.Context, userID *int64, items []pill.Item) (*pill.Detail, error)
	Get(ctx context.Context, id int64) (*pill.Detail, error)
	ListByUser(ctx context.Context, userID int64) ([]pill.Detail, error)
	ApplyCoupon(ctx context.Context, id int64, code string) (*pill.Detail, error)
	AttachAddress(ctx context.Context, id int64, addr pill.Address) (*pill.Detail, error)
	UpdateStatus(ctx context.Context, id int64, to pill.Status) (*pill.Detail, error)
}

// PaymentLedger records and approves payment requests.
type PaymentLedger interface {
	Create(ctx context.Context, pillID int64, reference string) (*payment.Request, error)
	Approve(ctx context.Context, requestID int64) (*payment.Approval, error)
}

// CouponIssuer creates coupons.
type CouponIssuer interface {
	Issue(ctx context.Context, req coupon.IssueRequest) (*coupon.Coupon, error)
}

// PriceCatalog resolves product prices.
type PriceCatalog interface {
	Price(ctx context.Context, id int64) (*pricing.ProductPrice, error)
}

// ShippingRates lists shipping fees.
type ShippingRates interface {
	Rates(ctx context.Context) ([]shipping.Rate, error)
}

// TokenParser turns a bearer token into a principal.
type TokenParser interface {
	Parse(raw string) (auth.Principal, error)
}

// Deps are the domain services behind the handlers.
type Deps struct {
	Pills    PillService
	Payments PaymentLedger
	Coupons  CouponIssuer
	Prices   PriceCatalog
	Shipping ShippingRates
	Tokens   TokenParser
}

// Handler serves the REST API.
type Handler struct {
	pills    PillService
	payments PaymentLedger
	coupons  CouponIssuer
	prices   PriceCatalog
	shipping ShippingRates
	tokens   TokenParser
}

// New creates a Handler.
func New(d Deps) *Handler {
	return &Handler{
		pills:    d.Pills,
		payments: d.Payments,
		coupons:  d.Coupons,
		prices:   d.Prices,
		shipping: d.Shipping,
		tokens:   d.Tokens,
	}
}

// Register mounts every route on g. Authentication is optional at the group
// level; individual routes demand a user or an admin.
func (h *Handler) Register(g *echo.Group) {
	g.Use(h.Authenticate)

	g.GET("/products/:id", h.GetProduct)
	g.GET("/shipping", h.ListShipping)

	g.POST("/pills", h.CreatePill)
	g.GET("/pills", h.ListPills, RequireUser)
	g.GET("/pills/:id", h.GetPill)
	g.PATCH("/pills/:id/coupon", h.ApplyCoupon)
	g.POST("/pills/:id/address", h.AttachAddress)
	g.PUT("/pills/:id/address", h.AttachAddress)
	g.PATCH("/pills/:id/status", h.UpdateStatus, RequireAdmin)

	g.POST("/pay-requests", h.CreatePayRequest)
	g.POST("/pay-requests/:id/apply", h.ApprovePayRequest, RequireAdmin)

	g.POST("/coupons", h.IssueCoupon, RequireAdmin)
}

// NotFound answers unmatched routes with the API error body.
func NotFound(c echo.Context) error {
	return writeError(c, http.StatusNotFound, kindNotFound, "route not found")
}
