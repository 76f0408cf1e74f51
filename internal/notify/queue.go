package notify

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pillshop/internal/domain/payment"
)

// ErrQueueFull is returned when the in-process queue has no free slot.
var ErrQueueFull = errors.New("notification queue is full")

var _ payment.Notifier = (*Queue)(nil)

// Queue is a bounded in-process task queue drained by a pool of workers.
// Enqueue never blocks the approving request.
type Queue struct {
	tasks     chan Task
	deliverer *Deliverer
	workers   int
	newID     func() uuid.UUID
}

// NewQueue creates a queue holding up to size pending tasks.
func NewQueue(deliverer *Deliverer, size, workers int) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		tasks:     make(chan Task, size),
		deliverer: deliverer,
		workers:   workers,
		newID:     uuid.New,
	}
}

// PaymentApproved implements payment.Notifier.
func (q *Queue) PaymentApproved(_ context.Context, n payment.Notice) error {
	select {
	case q.tasks <- NewTask(q.newID(), n):
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int { return len(q.tasks) }

// Run starts the workers and blocks until ctx is done. Tasks still pending
// when ctx is done are delivered before Run returns.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			lg := zctx.From(ctx).With(zap.Int("worker", i))
			for {
				select {
				case <-ctx.Done():
					q.flush(context.WithoutCancel(ctx), lg)
					return nil
				case t := <-q.tasks:
					q.deliver(ctx, lg, t)
				}
			}
		})
	}
	return g.Wait()
}

func (q *Queue) flush(ctx context.Context, lg *zap.Logger) {
	for {
		select {
		case t := <-q.tasks:
			q.deliver(ctx, lg, t)
		default:
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, lg *zap.Logger, t Task) {
	if err := q.deliverer.Deliver(ctx, t); err != nil {
		lg.Error("Notification dropped",
			zap.Stringer("task_id", t.ID),
			zap.Int64("pill_id", t.PillID),
			zap.Error(err),
		)
	}
}
