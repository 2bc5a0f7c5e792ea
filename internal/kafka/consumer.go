package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message was fully processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer fans messages out to a fixed pool of workers. Every partition is pinned to one worker
// so its offsets are handled and committed in order.
type Consumer struct {
	r       messageReader
	workers int
	logger  *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if logger == nil {
		logger = zap.NewNop()
	}
	return newConsumer(r, workers, logger.With(zap.String("topic", topic), zap.String("group", group)))
}

func newConsumer(r messageReader, workers int, logger *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, logger: logger}
}

// Start consumes until ctx is cancelled, which returns nil. A handler or commit failure stops
// the consumer and is returned: nothing after the failed offset is committed, so the group
// resumes from it on restart.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		failOnce sync.Once
		failure  error
	)
	stop := func(err error) {
		failOnce.Do(func() {
			failure = err
			cancel()
		})
	}

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(lane <-chan kafka.Message) {
			defer wg.Done()
			for m := range lane {
				if ctx.Err() != nil {
					continue
				}
				// errors caused by shutdown leave the offset uncommitted without failing the consumer
				if err := h(ctx, m); err != nil {
					if ctx.Err() == nil {
						stop(fmt.Errorf("handle partition %d offset %d: %w", m.Partition, m.Offset, err))
					}
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					stop(fmt.Errorf("commit partition %d offset %d: %w", m.Partition, m.Offset, err))
				}
			}
		}(lanes[i])
	}

	err := c.fetch(ctx, lanes)
	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()

	if failure != nil {
		c.logger.Error("consumer stopped", zap.Error(failure))
		return failure
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Consumer) fetch(ctx context.Context, lanes []chan kafka.Message) error {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return err
		}
		select {
		case lanes[m.Partition%len(lanes)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}
