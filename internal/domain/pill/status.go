package pill

import "github.com/go-faster/errors"

// Status is the lifecycle stage of a pill.
type Status string

const (
	StatusInitiated     Status = "initiated"
	StatusWaiting       Status = "waiting"
	StatusPaid          Status = "paid"
	StatusUnderDelivery Status = "under_delivery"
	StatusDelivered     Status = "delivered"
	StatusRefused       Status = "refused"
	StatusCanceled      Status = "canceled"
)

// transitions lists administrative status edits. initiated -> waiting only
// happens through an address and paid only through payment approval.
var transitions = map[Status][]Status{
	StatusInitiated:     {StatusRefused, StatusCanceled},
	StatusWaiting:       {StatusUnderDelivery, StatusRefused, StatusCanceled},
	StatusPaid:          {StatusUnderDelivery, StatusRefused, StatusCanceled},
	StatusUnderDelivery: {StatusDelivered, StatusRefused, StatusCanceled},
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusInitiated, StatusWaiting, StatusPaid, StatusUnderDelivery,
		StatusDelivered, StatusRefused, StatusCanceled:
		return st, nil
	}
	return "", errors.Wrapf(ErrInvalidTransition, "unknown status %q", s)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusRefused, StatusCanceled:
		return true
	}
	return false
}

// CanTransition reports whether an administrator may move a pill from s to to.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AcceptsAddress reports whether the delivery address may still be set.
func (s Status) AcceptsAddress() bool {
	return s == StatusInitiated || s == StatusWaiting
}

// AfterPayment returns the status a pill moves to when its payment is
// approved. Only a waiting pill, which already has its address, becomes
// paid; every other status is kept.
func (s Status) AfterPayment() Status {
	if s == StatusWaiting {
		return StatusPaid
	}
	return s
}
