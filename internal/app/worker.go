package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/pillshop/internal/notify"
)

// RunWorker consumes payment notifications from Kafka until ctx is done.
func RunWorker(ctx context.Context, lg *zap.Logger, cfg *WorkerConfig) error {
	consumer := notify.NewConsumer(cfg.Kafka, notify.NewDeliverer(cfg.Notify.Sender(), cfg.Notify.Retry))
	defer func() {
		if err := consumer.Close(); err != nil {
			lg.Warn("Close consumer", zap.Error(err))
		}
	}()

	lg.Info("Consuming notifications",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.GroupID),
	)
	return consumer.Run(ctx)
}
