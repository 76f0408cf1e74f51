package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/pillshop/internal/domain/payment"
)

// KafkaConfig locates the notification topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string `default:"pill-notifications"`
	GroupID string `default:"pill-notify-worker"`
}

// Enabled reports whether any broker is configured.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ payment.Notifier = (*Publisher)(nil)

// Publisher writes notification tasks to Kafka.
type Publisher struct {
	writer messageWriter
	newID  func() uuid.UUID
}

// NewPublisher creates a publisher for cfg.Topic.
func NewPublisher(cfg KafkaConfig) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		newID: uuid.New,
	}
}

// PaymentApproved implements payment.Notifier. Tasks are keyed by pill
// number so messages for one pill stay ordered.
func (p *Publisher) PaymentApproved(ctx context.Context, n payment.Notice) error {
	t := NewTask(p.newID(), n)
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.PillNumber),
		Value: MarshalTask(t),
		Headers: []kafka.Header{
			{Key: "task-id", Value: []byte(t.ID.String())},
		},
	})
	if err != nil {
		return errors.Wrap(err, "publish notification")
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Consumer reads notification tasks from Kafka and delivers them.
// Offsets are committed after delivery, successful or not.
type Consumer struct {
	reader    messageReader
	deliverer *Deliverer
}

// NewConsumer creates a consumer group member for cfg.Topic.
func NewConsumer(cfg KafkaConfig, deliverer *Deliverer) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		}),
		deliverer: deliverer,
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lg.Error("Commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	lg := zctx.From(ctx).With(
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)
	t, err := UnmarshalTask(msg.Value)
	if err != nil {
		lg.Error("Skipping malformed task", zap.Error(err))
		return
	}
	if err := c.deliverer.Deliver(ctx, t); err != nil {
		lg.Error("Notification dropped",
			zap.Stringer("task_id", t.ID),
			zap.Int64("pill_id", t.PillID),
			zap.Error(err),
		)
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
