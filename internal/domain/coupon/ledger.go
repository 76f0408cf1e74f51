package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const maxCodeAttempts = 5

// Ledger applies coupons to pills and issues new coupons. Every apply runs
// in one Store transaction so the remaining-use counter can never be
// overdrawn by concurrent pills.
type Ledger struct {
	store    Store
	now      func() time.Time
	generate func() (string, error)
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now, generate: GenerateCode}
}

// Apply attaches the coupon identified by code to the pill and consumes one
// use. subtotal is the pill price before coupons and determines the amount.
//
// Checks run in order: coupon exists, pill has no coupon yet, now is inside
// the window, a use remains.
func (l *Ledger) Apply(ctx context.Context, pillID int64, code string, subtotal decimal.Decimal) (*Application, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.Wrap(ErrInvalidCoupon, "code is required")
	}

	var app *Application
	err := l.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.FindByCode(ctx, code)
		if err != nil {
			return err
		}

		attached, err := tx.LockPill(ctx, pillID)
		if err != nil {
			return err
		}
		if attached != nil {
			return ErrCouponAlreadyApplied
		}

		if !c.ValidAt(l.now()) {
			return ErrCouponExpired
		}
		if c.RemainingUses <= 0 {
			return ErrCouponExhausted
		}

		taken, err := tx.ConsumeUse(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "consume use")
		}
		if !taken {
			return ErrCouponExhausted
		}

		amount := c.Amount(subtotal)
		if err := tx.Attach(ctx, pillID, c.ID, amount); err != nil {
			return errors.Wrap(err, "attach coupon")
		}

		app = &Application{
			CouponID: c.ID,
			Code:     c.Code,
			Percent:  c.Percent,
			Subtotal: subtotal,
			Amount:   amount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// IssueRequest describes a coupon to create. An empty Code is generated and
// a zero ValidFrom means now.
type IssueRequest struct {
	Code       string
	Percent    decimal.Decimal
	ValidFrom  time.Time
	ValidUntil time.Time
	Uses       int
}

// Issue creates a new coupon. Generated codes are retried on collision;
// explicit codes fail with ErrCodeTaken.
func (l *Ledger) Issue(ctx context.Context, req IssueRequest) (*Coupon, error) {
	c := &Coupon{
		Code:          strings.TrimSpace(req.Code),
		Percent:       req.Percent,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		RemainingUses: req.Uses,
	}
	if c.ValidFrom.IsZero() {
		c.ValidFrom = l.now()
	}
	if c.ValidUntil.IsZero() {
		return nil, errors.Wrap(ErrInvalidCoupon, "valid_until is required")
	}

	generated := c.Code == ""
	for attempt := 1; ; attempt++ {
		if generated {
			code, err := l.generate()
			if err != nil {
				return nil, err
			}
			c.Code = code
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}

		err := l.store.Create(ctx, c)
		switch {
		case err == nil:
			return c, nil
		case errors.Is(err, ErrCodeTaken) && generated && attempt < maxCodeAttempts:
			continue
		default:
			return nil, errors.Wrap(err, "create coupon")
		}
	}
}
