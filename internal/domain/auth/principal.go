// Package auth defines the caller identity carried through request contexts
// and the bearer token codec that produces it.
package auth

import "context"

// Role is the access level of an authenticated caller.
type Role string

const (
	// RoleUser is a regular storefront customer.
	RoleUser Role = "user"
	// RoleAdmin may change pill statuses, approve payments and issue coupons.
	RoleAdmin Role = "admin"
)

// Principal identifies the caller of an operation.
type Principal struct {
	UserID int64
	Role   Role
}

// IsAdmin reports whether the principal has administrative rights.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanAccess reports whether the principal may read or modify a resource
// owned by ownerID. Resources without an owner are open to everyone.
func (p *Principal) CanAccess(ownerID *int64) bool {
	if ownerID == nil {
		return true
	}
	if p == nil {
		return false
	}
	return p.IsAdmin() || p.UserID == *ownerID
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok {
		return nil, false
	}
	return &p, true
}
