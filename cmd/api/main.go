package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/cart"
	"github.com/ariefcatur/storefront-checkout/internal/config"
	"github.com/ariefcatur/storefront-checkout/internal/httpx"
	"github.com/ariefcatur/storefront-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-checkout/internal/kafka"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/ariefcatur/storefront-checkout/internal/postgres"
	"github.com/ariefcatur/storefront-checkout/internal/reconcile"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(logging.ContextWithLogger(context.Background(), log))
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Stores
	var (
		ledger    inventory.Ledger
		cartRepo  cart.Repo
		orderRepo orders.Repo
	)
	switch cfg.StoreBackend {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db_connect_failed", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db_migrate_failed", zap.Error(err))
		}
		ledger = &inventory.PGLedger{DB: db}
		cartRepo = &cart.PGRepo{DB: db}
		orderRepo = &orders.PGRepo{DB: db}
	default:
		log.Warn("using_memory_store")
		ledger = inventory.NewMemoryLedger(demoCatalog()...)
		cartRepo = cart.NewMemoryRepo()
		orderRepo = orders.NewMemoryRepo()
	}

	// Redis (webhook dedup fast path; optional)
	var dedup *redisx.Deduper
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis_unavailable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		dedup = &redisx.Deduper{Redis: rdb, Consumer: redisx.ConsumerWebhook}
	}

	// Order events
	var events orders.Publisher = orders.LogPublisher{}
	var prod *kafkax.Producer
	if cfg.KafkaEnabled {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, log)
		prod.Start(ctx)
		events = &kafkax.EnvelopePublisher{Producer: prod}
	}

	carts := &cart.Service{Repo: cartRepo, Catalog: ledger}
	engine := &reconcile.Engine{
		Orders:    orderRepo,
		Ledger:    ledger,
		Carts:     carts,
		Dedup:     dedup,
		Events:    events,
		Metrics:   m,
		Secret:    cfg.WebhookSecret,
		Tolerance: cfg.WebhookTolerance,
		Namespace: cfg.AppNamespace,
		Producer:  cfg.ServiceName,
	}
	api := &httpx.API{
		Carts: carts,
		Factory: &orders.Factory{
			Carts:        carts,
			Ledger:       ledger,
			Repo:         orderRepo,
			Events:       events,
			Metrics:      m,
			ShippingCost: cfg.ShippingCost,
			Producer:     cfg.ServiceName,
		},
		Orders: &orders.Service{Repo: orderRepo, Ledger: ledger, Events: events, Producer: cfg.ServiceName},
		Checkout: &payment.Checkout{
			Orders:   orderRepo,
			Gateway:  payment.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.AppNamespace, cfg.GatewayTimeout, m),
			Metrics:  m,
			Defaults: payment.Redirects{SuccessURL: cfg.SuccessURL, CancelURL: cfg.CancelURL},
		},
		Webhooks: engine,
	}
	if cfg.WebhookSecret == "" {
		log.Warn("webhook_secret_missing", zap.String("effect", "every webhook will be rejected"))
	}

	router := httpx.NewRouter(log, m, reg)
	api.Register(router)

	// Stale pending card orders
	sweeper := &reconcile.Sweeper{Engine: engine, TTL: cfg.PendingOrderTTL, Interval: cfg.SweepInterval, Concurrency: 4}
	go sweeper.Run(ctx)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http_listen_failed", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http_shutdown_failed", zap.Error(err))
	}
	cancel() // stops the sweeper and the producer loop
	if prod != nil {
		prod.WaitClosed()
	}
}

func demoCatalog() []inventory.Product {
	return []inventory.Product{
		{ID: "tee-basic", Name: "Basic Tee", Price: decimal.RequireFromString("19.99"), Stock: 50, Sizes: []string{"S", "M", "L"}},
		{ID: "hoodie-zip", Name: "Zip Hoodie", Price: decimal.RequireFromString("49.00"), Stock: 20, Sizes: []string{"M", "L"}},
		{ID: "cap-logo", Name: "Logo Cap", Price: decimal.RequireFromString("15.50"), Stock: 5},
	}
}
