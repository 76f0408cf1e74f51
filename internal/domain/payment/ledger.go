package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Ledger creates and approves payment requests.
type Ledger struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// NewLedger creates a Ledger. Approval notices go to notifier.
func NewLedger(store Store, notifier Notifier) *Ledger {
	return &Ledger{store: store, notifier: notifier, now: time.Now}
}

// Create records a payment claim for an unpaid pill.
func (l *Ledger) Create(ctx context.Context, pillID int64, reference string) (*Request, error) {
	var req *Request
	err := l.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockPill(ctx, pillID)
		if err != nil {
			return err
		}
		if p.Paid {
			return ErrAlreadyPaid
		}
		if !p.HasAddress {
			return ErrAddressRequired
		}

		r := &Request{
			PillID:    pillID,
			Reference: strings.TrimSpace(reference),
			CreatedAt: l.now(),
		}
		if err := tx.Insert(ctx, r); err != nil {
			return errors.Wrap(err, "insert request")
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Approve applies the request and marks its pill paid in one transaction.
// The customer notice is sent after commit; a failure to enqueue it is
// logged and does not undo the approval.
func (l *Ledger) Approve(ctx context.Context, requestID int64) (*Approval, error) {
	var approval Approval
	err := l.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Applied {
			return ErrAlreadyApplied
		}

		p, err := tx.LockPill(ctx, r.PillID)
		if err != nil {
			return err
		}
		if p.Paid {
			return ErrAlreadyPaid
		}
		if !p.HasAddress {
			return ErrAddressRequired
		}

		at := l.now()
		if err := tx.MarkApplied(ctx, r.ID, at); err != nil {
			return errors.Wrap(err, "mark applied")
		}
		status := p.Status.AfterPayment()
		if err := tx.MarkPaid(ctx, p.ID, status); err != nil {
			return errors.Wrap(err, "mark paid")
		}

		r.Applied = true
		r.AppliedAt = &at
		p.Paid = true
		p.Status = status
		approval = Approval{Request: *r, Pill: *p}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.notify(ctx, approval)
	return &approval, nil
}

func (l *Ledger) notify(ctx context.Context, a Approval) {
	lg := zctx.From(ctx).With(
		zap.Int64("pill_id", a.Pill.ID),
		zap.Int64("pay_request_id", a.Request.ID),
	)
	if l.notifier == nil || a.Pill.Phone == "" {
		lg.Debug("Skipping payment notice: no contact phone")
		return
	}

	err := l.notifier.PaymentApproved(ctx, Notice{
		PillID:     a.Pill.ID,
		PillNumber: a.Pill.Number,
		Name:       a.Pill.Name,
		Phone:      a.Pill.Phone,
		ApprovedAt: *a.Request.AppliedAt,
	})
	if err != nil {
		lg.Warn("Payment notice not enqueued", zap.Error(err))
	}
}
