package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.StoreBackend != "memory" {
		t.Fatalf("store = %q", cfg.StoreBackend)
	}
	if cfg.KafkaEnabled {
		t.Fatal("kafka enabled by default")
	}
	if !cfg.ShippingCost.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("shipping = %s", cfg.ShippingCost)
	}
	if cfg.PendingOrderTTL != 2*time.Hour || cfg.WebhookTolerance != 5*time.Minute {
		t.Fatalf("ttl = %s tolerance = %s", cfg.PendingOrderTTL, cfg.WebhookTolerance)
	}
	if cfg.AppNamespace != "forever-app" {
		t.Fatalf("namespace = %q", cfg.AppNamespace)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("NOTIFIER_WORKERS", "8")
	t.Setenv("SHIPPING_COST", "4.50")
	t.Setenv("PENDING_ORDER_TTL", "30m")

	cfg := Load()
	if cfg.StoreBackend != "postgres" || !cfg.KafkaEnabled || cfg.NotifierWorkers != 8 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if !cfg.ShippingCost.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("shipping = %s", cfg.ShippingCost)
	}
	if cfg.PendingOrderTTL != 30*time.Minute {
		t.Fatalf("ttl = %s", cfg.PendingOrderTTL)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("NOTIFIER_WORKERS", "-1")
	t.Setenv("SHIPPING_COST", "-3")
	t.Setenv("GATEWAY_TIMEOUT", "soon")
	t.Setenv("KAFKA_ENABLED", "maybe")

	cfg := Load()
	if cfg.NotifierWorkers != 4 {
		t.Fatalf("workers = %d", cfg.NotifierWorkers)
	}
	if !cfg.ShippingCost.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("shipping = %s", cfg.ShippingCost)
	}
	if cfg.GatewayTimeout != 10*time.Second || cfg.KafkaEnabled {
		t.Fatalf("timeout = %s kafka = %v", cfg.GatewayTimeout, cfg.KafkaEnabled)
	}
}
