package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message is done and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const maxRetryBackoff = 10 * time.Second

type Consumer struct {
	r       messageReader
	workers int
	backoff time.Duration
	log     *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, backoff: 200 * time.Millisecond, log: log}
}

// Start fetches until ctx is done. Each partition is pinned to one worker, and
// a worker retries a failing message until it succeeds before taking the next
// one. Group offsets are cumulative, so this is what keeps a later commit from
// skipping over a message that was never handled.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, lane <-chan kafka.Message) {
			defer wg.Done()
			c.work(ctx, id, lane, h)
		}(i, lanes[i])
	}
	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) work(ctx context.Context, id int, lane <-chan kafka.Message, h Handler) {
	for m := range lane {
		if !c.handle(ctx, id, m, h) {
			return
		}
		if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("kafka_commit_failed", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// handle reports false when ctx ended before m succeeded.
func (c *Consumer) handle(ctx context.Context, id int, m kafka.Message, h Handler) bool {
	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Error("kafka_handler_failed",
			zap.Int("worker", id),
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}
