package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends JSON messages to the notifications exchange.
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{ch: ch, exchange: ExchangeNotifications}
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
