// Package payment records customer payment claims and their administrative
// approval, which marks the pill paid exactly once.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/pillshop/internal/domain/pill"
)

var (
	// ErrNotFound is returned when a payment request does not exist.
	ErrNotFound = errors.New("payment request not found")
	// ErrPillNotFound is returned when the referenced pill does not exist.
	ErrPillNotFound = errors.New("pill not found")
	// ErrAlreadyPaid is returned when the pill is already paid.
	ErrAlreadyPaid = errors.New("pill already paid")
	// ErrAlreadyApplied is returned when the request was already approved.
	ErrAlreadyApplied = errors.New("payment request already applied")
	// ErrAddressRequired is returned when the pill has no delivery address.
	ErrAddressRequired = errors.New("pill has no delivery address")
)

// Request is a customer claim that a pill was paid.
type Request struct {
	ID        int64
	PillID    int64
	Reference string
	Applied   bool
	CreatedAt time.Time
	AppliedAt *time.Time
}

// PillState is the part of a pill the ledger reads under lock.
type PillState struct {
	ID     int64
	Number string
	Paid   bool
	Status pill.Status
	// HasAddress is set once a delivery address is attached.
	HasAddress bool
	Name       string
	Phone      string
}

// Tx is the set of operations available inside one atomic ledger step.
type Tx interface {
	// LockPill locks the pill row. Returns ErrPillNotFound.
	LockPill(ctx context.Context, pillID int64) (*PillState, error)
	// LockRequest locks the request row. Returns ErrNotFound.
	LockRequest(ctx context.Context, id int64) (*Request, error)
	// Insert stores r and sets its ID.
	Insert(ctx context.Context, r *Request) error
	// MarkApplied flags the request as approved at the given instant.
	MarkApplied(ctx context.Context, id int64, at time.Time) error
	// MarkPaid sets the pill paid flag and status.
	MarkPaid(ctx context.Context, pillID int64, status pill.Status) error
}

// Store runs ledger steps in transactions.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Notice is the message sent to the customer after approval.
type Notice struct {
	PillID     int64
	PillNumber string
	Name       string
	Phone      string
	ApprovedAt time.Time
}

// Notifier hands approval notices to the delivery pipeline.
type Notifier interface {
	PaymentApproved(ctx context.Context, n Notice) error
}

// Approval is the outcome of approving a request.
type Approval struct {
	Request Request
	Pill    PillState
}
