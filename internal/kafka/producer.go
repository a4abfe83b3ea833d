package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer buffers messages in an inbox and writes them from one goroutine.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     *zap.Logger
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					log.Error("kafka_write_failed", zap.String("topic", topic), zap.Int("messages", len(msgs)), zap.Error(err))
				}
			},
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log,
	}
}

// Start runs the write loop until ctx is done, then flushes what is left in the inbox.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						if err := p.w.Close(); err != nil {
							p.log.Warn("kafka_writer_close_failed", zap.Error(err))
						}
						return
					}
				}
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka_enqueue_failed", zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// Publish queues one message. It blocks only while the inbox is full and ctx is live.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitClosed blocks until the write loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.closeCh }
