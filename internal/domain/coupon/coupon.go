// Package coupon manages percentage coupons with a validity window and a
// finite number of uses, and their one-time application to pills.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrCouponNotFound is returned when no coupon has the given code.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponAlreadyApplied is returned when the pill already carries a coupon.
	ErrCouponAlreadyApplied = errors.New("coupon already applied to this pill")
	// ErrCouponExpired is returned when now is outside the coupon window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponExhausted is returned when the coupon has no uses left.
	ErrCouponExhausted = errors.New("coupon exhausted")
	// ErrPillNotFound is returned when the target pill does not exist.
	ErrPillNotFound = errors.New("pill not found")
	// ErrCodeTaken is returned when issuing a coupon with an existing code.
	ErrCodeTaken = errors.New("coupon code already exists")
	// ErrInvalidCoupon is returned for malformed coupon input.
	ErrInvalidCoupon = errors.New("invalid coupon")
)

var hundred = decimal.NewFromInt(100)

// Coupon is a percentage discount usable RemainingUses more times inside
// [ValidFrom, ValidUntil]. Percent may carry up to two decimal places.
type Coupon struct {
	ID            int64
	Code          string
	Percent       decimal.Decimal
	ValidFrom     time.Time
	ValidUntil    time.Time
	RemainingUses int
	CreatedAt     time.Time
}

// ValidAt reports whether t falls inside the coupon window, both ends inclusive.
func (c Coupon) ValidAt(t time.Time) bool {
	return !t.Before(c.ValidFrom) && !t.After(c.ValidUntil)
}

// Amount returns the coupon discount for subtotal, rounded to cents.
func (c Coupon) Amount(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(c.Percent).Div(hundred).Round(2)
}

// Validate checks the coupon invariants.
func (c Coupon) Validate() error {
	switch {
	case c.Code == "":
		return errors.Wrap(ErrInvalidCoupon, "code is required")
	case c.Percent.IsNegative() || c.Percent.GreaterThan(hundred):
		return errors.Wrapf(ErrInvalidCoupon, "percent %s out of range", c.Percent)
	case !c.Percent.Equal(c.Percent.Round(2)):
		return errors.Wrapf(ErrInvalidCoupon, "percent %s has more than two decimal places", c.Percent)
	case c.RemainingUses < 0:
		return errors.Wrap(ErrInvalidCoupon, "remaining uses must not be negative")
	case c.ValidFrom.After(c.ValidUntil):
		return errors.Wrap(ErrInvalidCoupon, "valid_from is after valid_until")
	}
	return nil
}

// Application is the outcome of applying a coupon to a pill.
type Application struct {
	CouponID int64
	Code     string
	Percent  decimal.Decimal
	Subtotal decimal.Decimal
	Amount   decimal.Decimal
}

// Tx is the set of operations available inside one atomic apply.
type Tx interface {
	// FindByCode returns the coupon or ErrCouponNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// LockPill locks the pill row and returns the id of the coupon already
	// attached to it, if any. Returns ErrPillNotFound.
	LockPill(ctx context.Context, pillID int64) (*int64, error)
	// ConsumeUse decrements the remaining uses only if positive and reports
	// whether a use was taken.
	ConsumeUse(ctx context.Context, couponID int64) (bool, error)
	// Attach records the coupon and its amount on the pill.
	Attach(ctx context.Context, pillID, couponID int64, amount decimal.Decimal) error
}

// Store persists coupons.
type Store interface {
	// Atomic runs fn in a single transaction, rolling back on error.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Create inserts c and sets its ID and CreatedAt. Returns ErrCodeTaken.
	Create(ctx context.Context, c *Coupon) error
}
