package kafka

import (
	"context"
	"strconv"

	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/segmentio/kafka-go"
)

// EnvelopePublisher puts order lifecycle events on the order topic, keyed by order id.
type EnvelopePublisher struct {
	Producer *Producer
}

func (p *EnvelopePublisher) Publish(ctx context.Context, env orders.Envelope) error {
	return p.Producer.Publish(ctx, orders.PartitionKey(env.CorrelationID), MustMarshal(env), EventHeaders(env)...)
}

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func EventHeaders(env orders.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}
}

// HeaderValue returns the first header named key.
func HeaderValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
