package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/storefront-checkout/internal/config"
	kafkax "github.com/ariefcatur/storefront-checkout/internal/kafka"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/notify"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/rabbitmq"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName+"-notifier", cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(logging.ContextWithLogger(context.Background(), log))
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// RabbitMQ
	conn, ch, err := rabbitmq.SetupConn(ctx, cfg.AMQPURL, log)
	if err != nil {
		log.Fatal("rabbitmq_setup_failed", zap.Error(err))
	}
	defer conn.Close()
	defer ch.Close()

	svc := &notify.Service{
		Dedup: &redisx.Deduper{Redis: rdb, Consumer: redisx.ConsumerNotifier},
		Sink:  rabbitmq.NewPublisher(ch),
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicOrderEvents, cfg.NotifierWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("notifier_started",
			zap.String("group", cfg.NotifierGroup),
			zap.String("topic", orders.TopicOrderEvents),
			zap.Int("workers", cfg.NotifierWorkers))
		if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
			log.Error("consumer_exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting_down")
	case <-ctx.Done():
	}
	cancel()
	<-done
}
