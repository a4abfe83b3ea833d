package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/inventory"
	"github.com/ariefcatur/storefront-checkout/internal/postgres/pgtest"
	"github.com/shopspring/decimal"
)

func TestPGRepo_RoundTripsThroughService(t *testing.T) {
	db := pgtest.Open(t)
	ctx := context.Background()

	ledger := &inventory.PGLedger{DB: db}
	if err := ledger.Put(ctx, inventory.Product{ID: "p1", Name: "Tee", Price: decimal.RequireFromString("10.00"), Stock: 5}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := &Service{Repo: &PGRepo{DB: db}, Catalog: ledger}

	if _, err := svc.AddItem(ctx, "u1", "p1", "M", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	c, err := svc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(c.Items) != 1 || !c.TotalAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected cart: %+v", c)
	}

	if _, err := svc.SetQuantity(ctx, "u1", "p1", "L", 1); !errors.Is(err, apperr.ErrItemNotFound) {
		t.Fatalf("want item not found, got %v", err)
	}
	if err := svc.Clear(ctx, "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	c, _ = svc.Get(ctx, "u1")
	if !c.IsEmpty() || !c.TotalAmount.IsZero() {
		t.Fatalf("cart not cleared: %+v", c)
	}
}
