// Package pill implements the order aggregate: line items, delivery address,
// attached coupon, status lifecycle and derived prices.
package pill

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a pill does not exist.
	ErrNotFound = errors.New("pill not found")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAddressLocked is returned when the address can no longer change.
	ErrAddressLocked = errors.New("address can no longer be changed")
	// ErrInvalidAddress is returned for incomplete or malformed addresses.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidItem is returned for malformed line items.
	ErrInvalidItem = errors.New("invalid item")
	// ErrNumberTaken is returned by Repository.Create when the pill number
	// is already used.
	ErrNumberTaken = errors.New("pill number already taken")
)

// InvalidItemError describes which line item was rejected and why.
type InvalidItemError struct {
	Index  int
	Reason string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidItem) match.
func (e *InvalidItemError) Is(target error) bool { return target == ErrInvalidItem }

// Size is a garment size.
type Size string

var sizes = map[Size]struct{}{
	"s": {}, "xs": {}, "m": {}, "l": {}, "xl": {},
	"xxl": {}, "xxxl": {}, "xxxxl": {}, "xxxxxl": {},
}

// Valid reports whether s is empty or a known size.
func (s Size) Valid() bool {
	if s == "" {
		return true
	}
	_, ok := sizes[s]
	return ok
}

// Item is one product line of a pill.
type Item struct {
	ProductID int64
	Quantity  int
	Size      Size
	Color     string
}

// ValidateItems checks quantities and sizes.
func ValidateItems(items []Item) error {
	for i, it := range items {
		switch {
		case it.ProductID <= 0:
			return &InvalidItemError{Index: i, Reason: "product is required"}
		case it.Quantity < 1:
			return &InvalidItemError{Index: i, Reason: "quantity must be at least 1"}
		case !it.Size.Valid():
			return &InvalidItemError{Index: i, Reason: fmt.Sprintf("unknown size %q", it.Size)}
		}
	}
	return nil
}

// PayMethod is how the customer intends to pay.
type PayMethod string

const (
	PayCash   PayMethod = "cash"
	PayCard   PayMethod = "card"
	PayWallet PayMethod = "wallet"
)

// Address is the delivery contact of a pill.
type Address struct {
	Name      string
	Email     string
	Phone     string
	Street    string
	Region    string
	PayMethod PayMethod
}

// Normalize trims fields and defaults the pay method, then validates.
func (a *Address) Normalize() error {
	a.Name = strings.TrimSpace(a.Name)
	a.Email = strings.TrimSpace(a.Email)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Street = strings.TrimSpace(a.Street)
	a.Region = strings.TrimSpace(a.Region)
	if a.PayMethod == "" {
		a.PayMethod = PayCash
	}

	switch {
	case a.Name == "":
		return errors.Wrap(ErrInvalidAddress, "name is required")
	case a.Phone == "":
		return errors.Wrap(ErrInvalidAddress, "phone is required")
	case a.Street == "":
		return errors.Wrap(ErrInvalidAddress, "address is required")
	case a.Region == "":
		return errors.Wrap(ErrInvalidAddress, "region is required")
	}
	switch a.PayMethod {
	case PayCash, PayCard, PayWallet:
	default:
		return errors.Wrapf(ErrInvalidAddress, "unknown pay method %q", a.PayMethod)
	}
	if a.Email != "" {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			return errors.Wrap(ErrInvalidAddress, "malformed email")
		}
	}
	return nil
}

// AppliedCoupon is the coupon attached to a pill.
type AppliedCoupon struct {
	ID      int64
	Code    string
	Percent decimal.Decimal
}

// Pill is the order aggregate.
type Pill struct {
	ID     int64
	Number string
	UserID *int64
	Items  []Item
	Status Status
	Paid   bool
	// Coupon is nil until a coupon is applied. CouponDiscount is frozen at
	// application time.
	Coupon         *AppliedCoupon
	CouponDiscount decimal.Decimal
	Address        *Address
	CreatedAt      time.Time
}

// Region returns the delivery region or "" without an address.
func (p *Pill) Region() string {
	if p.Address == nil {
		return ""
	}
	return p.Address.Region
}

// Quote holds the derived prices of a pill at one instant.
type Quote struct {
	PriceWithoutCoupons      decimal.Decimal
	CouponDiscount           decimal.Decimal
	PriceAfterCouponDiscount decimal.Decimal
	ShippingPrice            decimal.Decimal
	FinalPrice               decimal.Decimal
}

// NewQuote derives the coupon and final prices from a subtotal, the frozen
// coupon amount and the shipping fee.
func NewQuote(subtotal, couponDiscount, shipping decimal.Decimal) Quote {
	after := subtotal.Sub(couponDiscount)
	return Quote{
		PriceWithoutCoupons:      subtotal,
		CouponDiscount:           couponDiscount,
		PriceAfterCouponDiscount: after,
		ShippingPrice:            shipping,
		FinalPrice:               after.Add(shipping),
	}
}

// Repository persists pills.
type Repository interface {
	// Create inserts p with its items and sets ID and CreatedAt.
	// Returns ErrNumberTaken on a number collision.
	Create(ctx context.Context, p *Pill) error
	// Get returns the pill with items, address and coupon, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Pill, error)
	// ListByUser returns the newest pills of a user, at most limit.
	ListByUser(ctx context.Context, userID int64, limit int) ([]Pill, error)
	// SaveAddress locks the pill, asks next for the status to move to and
	// upserts the address together with that status. An error from next
	// aborts without changes.
	SaveAddress(ctx context.Context, id int64, addr Address, next func(Status) (Status, error)) error
	// UpdateStatus locks the pill and stores the status returned by next.
	UpdateStatus(ctx context.Context, id int64, next func(Status) (Status, error)) error
	// Numbers returns every issued pill number.
	Numbers(ctx context.Context) ([]string, error)
}
