package orders

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventPaymentConfirmed   = "PaymentConfirmed"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderRefunded      = "OrderRefunded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderEventPayload is shared by every order lifecycle event.
type OrderEventPayload struct {
	OrderID         string          `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	OrderStatus     Status          `json:"order_status"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Reason          string          `json:"reason,omitempty"`
}

func NewEnvelope(ctx context.Context, eventType, producer string, o Order, reason string) Envelope {
	payload, _ := json.Marshal(OrderEventPayload{
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   o.PaymentStatus,
		OrderStatus:     o.OrderStatus,
		PaymentIntentID: o.PaymentIntentID,
		TotalAmount:     o.TotalAmount,
		Reason:          reason,
	})
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: o.ID,
		Payload:       payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}

// Publisher ships lifecycle events. Publishing is best effort: the order
// state is already committed when it runs.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// LogPublisher writes events to the log; used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, env Envelope) error {
	logging.FromContext(ctx).Debug("order_event",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("order_id", env.CorrelationID))
	return nil
}

type MemoryPublisher struct {
	mu     sync.Mutex
	events []Envelope
}

func (p *MemoryPublisher) Publish(_ context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *MemoryPublisher) Events() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.events...)
}

// Count returns how many events of the given type were published.
func (p *MemoryPublisher) Count(eventType string) int {
	n := 0
	for _, e := range p.Events() {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func publish(ctx context.Context, pub Publisher, env Envelope) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, env); err != nil {
		logging.FromContext(ctx).Warn("order_event_publish_failed",
			zap.String("event_type", env.EventType),
			zap.String("order_id", env.CorrelationID),
			zap.Error(err))
	}
}

// Emit builds and publishes one lifecycle event.
func Emit(ctx context.Context, pub Publisher, producer, eventType string, o Order, reason string) {
	publish(ctx, pub, NewEnvelope(ctx, eventType, producer, o, reason))
}
