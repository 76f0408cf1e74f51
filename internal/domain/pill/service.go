package pill

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pillshop/internal/domain/coupon"
	"github.com/xenking/pillshop/internal/domain/pricing"
)

const (
	historyLimit      = 10
	maxNumberAttempts = 5
)

// Pricer sums line prices before coupons.
type Pricer interface {
	Subtotal(ctx context.Context, lines []pricing.Line) (decimal.Decimal, error)
}

// CouponApplier attaches a coupon to a pill atomically.
type CouponApplier interface {
	Apply(ctx context.Context, pillID int64, code string, subtotal decimal.Decimal) (*coupon.Application, error)
}

// ShippingPricer answers shipping fee questions.
type ShippingPricer interface {
	Price(ctx context.Context, region string) (decimal.Decimal, error)
	Exists(ctx context.Context, region string) (bool, error)
}

// Detail is a pill together with prices computed for the current instant.
type Detail struct {
	Pill  *Pill
	Quote Quote
}

// Service encapsulates the pill lifecycle.
type Service struct {
	pills    Repository
	pricer   Pricer
	coupons  CouponApplier
	shipping ShippingPricer
	numbers  *NumberGenerator
}

// NewService creates a pill Service with its domain dependencies.
func NewService(
	pills Repository,
	pricer Pricer,
	coupons CouponApplier,
	shipping ShippingPricer,
	numbers *NumberGenerator,
) *Service {
	return &Service{
		pills:    pills,
		pricer:   pricer,
		coupons:  coupons,
		shipping: shipping,
		numbers:  numbers,
	}
}

// WarmNumbers loads issued pill numbers into the number generator.
func (s *Service) WarmNumbers(ctx context.Context) error {
	numbers, err := s.pills.Numbers(ctx)
	if err != nil {
		return errors.Wrap(err, "load pill numbers")
	}
	s.numbers.Warm(numbers)
	return nil
}

// Create validates items, checks the products exist and stores a new pill
// in the initiated status under a fresh unique number.
func (s *Service) Create(ctx context.Context, userID *int64, items []Item) (*Detail, error) {
	if err := ValidateItems(items); err != nil {
		return nil, err
	}

	// Pricing the items up front rejects unknown products.
	subtotal, err := s.pricer.Subtotal(ctx, lines(items))
	if err != nil {
		return nil, errors.Wrap(err, "price items")
	}

	p := &Pill{
		UserID: userID,
		Items:  items,
		Status: StatusInitiated,
	}
	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Next()
		if err != nil {
			return nil, err
		}
		p.Number = number

		err = s.pills.Create(ctx, p)
		if err == nil {
			s.numbers.MarkIssued(number)
			break
		}
		if errors.Is(err, ErrNumberTaken) && attempt < maxNumberAttempts {
			s.numbers.MarkIssued(number)
			continue
		}
		return nil, errors.Wrap(err, "create pill")
	}

	return &Detail{Pill: p, Quote: NewQuote(subtotal, decimal.Zero, decimal.Zero)}, nil
}

// Get returns the pill with freshly computed prices.
func (s *Service) Get(ctx context.Context, id int64) (*Detail, error) {
	p, err := s.pills.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	q, err := s.Quote(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Detail{Pill: p, Quote: q}, nil
}

// ListByUser returns the ten most recent pills of a user with prices.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Detail, error) {
	pills, err := s.pills.ListByUser(ctx, userID, historyLimit)
	if err != nil {
		return nil, errors.Wrap(err, "list pills")
	}
	out := make([]Detail, 0, len(pills))
	for i := range pills {
		q, err := s.Quote(ctx, &pills[i])
		if err != nil {
			return nil, err
		}
		out = append(out, Detail{Pill: &pills[i], Quote: q})
	}
	return out, nil
}

// Quote computes the derived prices of p at the current instant. The coupon
// discount is the amount frozen when the coupon was applied.
func (s *Service) Quote(ctx context.Context, p *Pill) (Quote, error) {
	subtotal, err := s.pricer.Subtotal(ctx, lines(p.Items))
	if err != nil {
		return Quote{}, errors.Wrap(err, "price without coupons")
	}
	fee, err := s.shipping.Price(ctx, p.Region())
	if err != nil {
		return Quote{}, errors.Wrap(err, "shipping price")
	}
	return NewQuote(subtotal, p.CouponDiscount, fee), nil
}

// ApplyCoupon attaches the coupon to the pill and returns the new prices.
func (s *Service) ApplyCoupon(ctx context.Context, id int64, code string) (*Detail, error) {
	p, err := s.pills.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	subtotal, err := s.pricer.Subtotal(ctx, lines(p.Items))
	if err != nil {
		return nil, errors.Wrap(err, "price without coupons")
	}

	applied, err := s.coupons.Apply(ctx, id, code, subtotal)
	if err != nil {
		return nil, err
	}
	p.Coupon = &AppliedCoupon{ID: applied.CouponID, Code: applied.Code, Percent: applied.Percent}
	p.CouponDiscount = applied.Amount

	fee, err := s.shipping.Price(ctx, p.Region())
	if err != nil {
		return nil, errors.Wrap(err, "shipping price")
	}
	return &Detail{Pill: p, Quote: NewQuote(subtotal, applied.Amount, fee)}, nil
}

// AttachAddress sets or replaces the delivery address and moves the pill to
// waiting. The region must have a shipping rate.
func (s *Service) AttachAddress(ctx context.Context, id int64, addr Address) (*Detail, error) {
	if err := addr.Normalize(); err != nil {
		return nil, err
	}
	ok, err := s.shipping.Exists(ctx, addr.Region)
	if err != nil {
		return nil, errors.Wrap(err, "check region")
	}
	if !ok {
		return nil, errors.Wrapf(ErrInvalidAddress, "unknown region %q", addr.Region)
	}

	err = s.pills.SaveAddress(ctx, id, addr, func(current Status) (Status, error) {
		if !current.AcceptsAddress() {
			return "", errors.Wrapf(ErrAddressLocked, "pill is %s", current)
		}
		return StatusWaiting, nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// UpdateStatus performs an administrative status edit.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to Status) (*Detail, error) {
	err := s.pills.UpdateStatus(ctx, id, func(current Status) (Status, error) {
		if !current.CanTransition(to) {
			return "", errors.Wrapf(ErrInvalidTransition, "%s -> %s", current, to)
		}
		return to, nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func lines(items []Item) []pricing.Line {
	out := make([]pricing.Line, len(items))
	for i, it := range items {
		out[i] = pricing.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}
