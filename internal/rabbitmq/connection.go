package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeNotifications = "storefront.notifications"
	ExchangeType          = "topic"
)

// SetupConn dials with a few retries for container startup and declares the exchange.
func SetupConn(ctx context.Context, url string, log *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("rabbitmq_dial_failed", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		ExchangeNotifications, // name
		ExchangeType,          // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}
	return conn, ch, nil
}
