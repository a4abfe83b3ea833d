// Package pgtest opens a migrated pool for integration tests. Tests skip when
// TEST_POSTGRES_DSN is not set.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/ariefcatur/storefront-checkout/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}
	ctx := context.Background()
	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.Exec(ctx, `TRUNCATE order_items, orders, cart_items, carts, products`); err != nil {
		db.Close()
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}
