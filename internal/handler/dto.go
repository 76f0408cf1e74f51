package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pillshop/internal/domain/coupon"
	"github.com/xenking/pillshop/internal/domain/payment"
	"github.com/xenking/pillshop/internal/domain/pill"
	"github.com/xenking/pillshop/internal/domain/pricing"
	"github.com/xenking/pillshop/internal/domain/shipping"
)

// Money values are rendered as fixed two-decimal strings.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

type productView struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Category        *int64 `json:"category"`
	Price           string `json:"price"`
	DiscountedPrice string `json:"discounted_price"`
	HasDiscount     bool   `json:"has_discount"`
}

func toProductView(p *pricing.ProductPrice) productView {
	return productView{
		ID:              p.Product.ID,
		Name:            p.Product.Name,
		Category:        p.Product.CategoryID,
		Price:           money(p.Product.Price),
		DiscountedPrice: money(p.DiscountedPrice),
		HasDiscount:     p.HasDiscount(),
	}
}

type shippingView struct {
	Region string `json:"region"`
	Name   string `json:"name"`
	Fee    string `json:"fee"`
}

func toShippingViews(rates []shipping.Rate) []shippingView {
	out := make([]shippingView, len(rates))
	for i, r := range rates {
		out[i] = shippingView{Region: r.Region, Name: r.Name, Fee: money(r.Fee)}
	}
	return out
}

type itemBody struct {
	Product  int64  `json:"product"`
	Quantity int    `json:"quantity"`
	Size     string `json:"size,omitempty"`
	Color    string `json:"color,omitempty"`
}

type createPillRequest struct {
	Items []itemBody `json:"items"`
	// User may only be set by admins creating a pill on behalf of a customer.
	User *int64 `json:"user,omitempty"`
}

type applyCouponRequest struct {
	Coupon string `json:"coupon"`
}

type addressBody struct {
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Region    string `json:"region"`
	PayMethod string `json:"pay_method,omitempty"`
}

func (a addressBody) domain() pill.Address {
	return pill.Address{
		Name:      a.Name,
		Email:     a.Email,
		Phone:     a.Phone,
		Street:    a.Address,
		Region:    a.Region,
		PayMethod: pill.PayMethod(a.PayMethod),
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

type quoteView struct {
	PriceWithoutCoupons      string `json:"price_without_coupons"`
	CouponDiscount           string `json:"coupon_discount"`
	PriceAfterCouponDiscount string `json:"price_after_coupon_discount"`
	ShippingPrice            string `json:"shipping_price"`
	FinalPrice               string `json:"final_price"`
}

func toQuoteView(q pill.Quote) quoteView {
	return quoteView{
		PriceWithoutCoupons:      money(q.PriceWithoutCoupons),
		CouponDiscount:           money(q.CouponDiscount),
		PriceAfterCouponDiscount: money(q.PriceAfterCouponDiscount),
		ShippingPrice:            money(q.ShippingPrice),
		FinalPrice:               money(q.FinalPrice),
	}
}

type couponRef struct {
	Code    string          `json:"code"`
	Percent decimal.Decimal `json:"percent"`
}

type pillView struct {
	ID        int64        `json:"id"`
	Number    string       `json:"number"`
	User      *int64       `json:"user"`
	Status    pill.Status  `json:"status"`
	Paid      bool         `json:"paid"`
	Items     []itemBody   `json:"items"`
	Coupon    *couponRef   `json:"coupon"`
	Address   *addressBody `json:"address"`
	CreatedAt time.Time    `json:"created_at"`
	quoteView
}

func toPillView(d *pill.Detail) pillView {
	p := d.Pill
	v := pillView{
		ID:        p.ID,
		Number:    p.Number,
		User:      p.UserID,
		Status:    p.Status,
		Paid:      p.Paid,
		Items:     make([]itemBody, len(p.Items)),
		CreatedAt: p.CreatedAt,
		quoteView: toQuoteView(d.Quote),
	}
	for i, it := range p.Items {
		v.Items[i] = itemBody{Product: it.ProductID, Quantity: it.Quantity, Size: string(it.Size), Color: it.Color}
	}
	if p.Coupon != nil {
		v.Coupon = &couponRef{Code: p.Coupon.Code, Percent: p.Coupon.Percent}
	}
	if a := p.Address; a != nil {
		v.Address = &addressBody{
			Name:      a.Name,
			Email:     a.Email,
			Phone:     a.Phone,
			Address:   a.Street,
			Region:    a.Region,
			PayMethod: string(a.PayMethod),
		}
	}
	return v
}

type payRequestBody struct {
	Pill      int64  `json:"pill"`
	Reference string `json:"reference,omitempty"`
}

// toApprovedView renders the pill from the state the payment ledger
// locked, for when the full pill cannot be reloaded.
func toApprovedView(a *payment.Approval) pillView {
	return pillView{
		ID:     a.Pill.ID,
		Number: a.Pill.Number,
		Status: a.Pill.Status,
		Paid:   a.Pill.Paid,
		Items:  []itemBody{},
	}
}

type payRequestView struct {
	ID        int64      `json:"id"`
	Pill      int64      `json:"pill"`
	Reference string     `json:"reference,omitempty"`
	Applied   bool       `json:"is_applied"`
	CreatedAt time.Time  `json:"created_at"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

func toPayRequestView(r *payment.Request) payRequestView {
	return payRequestView{
		ID:        r.ID,
		Pill:      r.PillID,
		Reference: r.Reference,
		Applied:   r.Applied,
		CreatedAt: r.CreatedAt,
		AppliedAt: r.AppliedAt,
	}
}

type issueCouponRequest struct {
	Code       string          `json:"code,omitempty"`
	Percent    decimal.Decimal `json:"percent"`
	ValidFrom  *time.Time      `json:"valid_from,omitempty"`
	ValidUntil time.Time       `json:"valid_until"`
	Uses       int             `json:"uses"`
}

type couponView struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Percent       decimal.Decimal `json:"percent"`
	ValidFrom     time.Time       `json:"valid_from"`
	ValidUntil    time.Time       `json:"valid_until"`
	RemainingUses int             `json:"remaining_uses"`
}

func toCouponView(c *coupon.Coupon) couponView {
	return couponView{
		ID:            c.ID,
		Code:          c.Code,
		Percent:       c.Percent,
		ValidFrom:     c.ValidFrom,
		ValidUntil:    c.ValidUntil,
		RemainingUses: c.RemainingUses,
	}
}
