// Package notify relays order lifecycle events from Kafka to the
// notifications exchange, where mail and push workers pick them up.
package notify

import (
	"context"
	"strings"
	"time"
	"unicode"

	kafkax "github.com/ariefcatur/storefront-checkout/internal/kafka"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Message struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	OrderNumber string    `json:"order_number"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Sink interface {
	Publish(ctx context.Context, routingKey string, v any) error
}

var relayed = map[string]bool{
	orders.EventOrderPlaced:        true,
	orders.EventPaymentConfirmed:   true,
	orders.EventOrderCancelled:     true,
	orders.EventOrderStatusChanged: true,
	orders.EventOrderRefunded:      true,
}

type Service struct {
	Dedup *redisx.Deduper
	Sink  Sink
}

// HandleOrderEvent is installed as the consumer handler. A nil return commits the offset.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	log := logging.FromContext(ctx)
	if t := kafkax.HeaderValue(m, kafkax.HeaderEventType); t != "" && !relayed[t] {
		return nil
	}

	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		// poison message; committing it is the only way past it
		log.Error("notify_bad_envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if !relayed[env.EventType] {
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))

	seen, err := s.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		log.Warn("notify_dedup_unavailable", zap.Error(err))
	}
	if seen {
		log.Debug("notify_duplicate")
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderEventPayload](env.Payload)
	if err != nil {
		log.Error("notify_bad_payload", zap.Error(err))
		return nil
	}
	msg := Message{
		EventID:     env.EventID,
		Type:        env.EventType,
		OrderID:     p.OrderID,
		UserID:      p.UserID,
		OrderNumber: p.OrderNumber,
		Reason:      p.Reason,
		OccurredAt:  env.OccurredAt,
	}
	if err := s.Sink.Publish(ctx, RoutingKey(env.EventType), msg); err != nil {
		return err
	}
	if err := s.Dedup.Mark(context.WithoutCancel(ctx), env.EventID); err != nil {
		log.Warn("notify_dedup_mark_failed", zap.Error(err))
	}
	log.Info("notification_relayed", zap.String("order_id", p.OrderID))
	return nil
}

// RoutingKey maps OrderPlaced to order.order-placed.
func RoutingKey(eventType string) string {
	var b strings.Builder
	b.WriteString("order.")
	for i, r := range eventType {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
