// Package notify delivers payment approval messages to customers.
//
// Approvals are turned into Tasks which travel either through Kafka
// (Publisher/Consumer) or an in-process Queue, and are finally handed to a
// Sender with retries.
package notify

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/pillshop/internal/domain/payment"
)

// ErrInvalidTask is returned when a task cannot be decoded or lacks a phone.
var ErrInvalidTask = errors.New("invalid notification task")

// Task is one pending customer notification.
type Task struct {
	ID         uuid.UUID
	PillID     int64
	PillNumber string
	Name       string
	Phone      string
	ApprovedAt time.Time
}

// NewTask builds a task for an approved payment.
func NewTask(id uuid.UUID, n payment.Notice) Task {
	return Task{
		ID:         id,
		PillID:     n.PillID,
		PillNumber: n.PillNumber,
		Name:       n.Name,
		Phone:      n.Phone,
		ApprovedAt: n.ApprovedAt,
	}
}

// Message renders the text sent to the customer.
func (t Task) Message() Message {
	name := t.Name
	if name == "" {
		name = "there"
	}
	return Message{
		ID:   t.ID,
		To:   t.Phone,
		Body: fmt.Sprintf("Hi %s, your payment for order #%s has been confirmed. Thank you!", name, t.PillNumber),
	}
}

// Encode writes t as a JSON object.
func (t Task) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(t.ID.String())
	e.FieldStart("pill_id")
	e.Int64(t.PillID)
	e.FieldStart("pill_number")
	e.Str(t.PillNumber)
	e.FieldStart("name")
	e.Str(t.Name)
	e.FieldStart("phone")
	e.Str(t.Phone)
	e.FieldStart("approved_at")
	e.Str(t.ApprovedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// Decode reads t from a JSON object.
func (t *Task) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			if err != nil {
				return err
			}
			t.ID, err = uuid.Parse(v)
			return err
		case "pill_id":
			v, err := d.Int64()
			t.PillID = v
			return err
		case "pill_number":
			v, err := d.Str()
			t.PillNumber = v
			return err
		case "name":
			v, err := d.Str()
			t.Name = v
			return err
		case "phone":
			v, err := d.Str()
			t.Phone = v
			return err
		case "approved_at":
			v, err := d.Str()
			if err != nil {
				return err
			}
			t.ApprovedAt, err = time.Parse(time.RFC3339Nano, v)
			return err
		default:
			return d.Skip()
		}
	})
}

// MarshalTask encodes t.
func MarshalTask(t Task) []byte {
	e := &jx.Encoder{}
	t.Encode(e)
	return e.Bytes()
}

// UnmarshalTask decodes and validates a task.
func UnmarshalTask(data []byte) (Task, error) {
	var t Task
	if err := t.Decode(jx.DecodeBytes(data)); err != nil {
		return Task{}, errors.Wrapf(ErrInvalidTask, "decode: %v", err)
	}
	if t.Phone == "" {
		return Task{}, errors.Wrap(ErrInvalidTask, "phone is empty")
	}
	return t, nil
}
