package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/postgres/pgtest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func sampleOrder(number string, created time.Time) Order {
	return Order{
		ID:              uuid.NewString(),
		OrderNumber:     number,
		UserID:          "u1",
		Items:           []Item{{ProductID: "p1", Name: "Tee", Price: decimal.RequireFromString("10.00"), Quantity: 2, Size: "M"}},
		ShippingAddress: addr,
		PaymentMethod:   MethodCard,
		PaymentStatus:   PaymentPending,
		OrderStatus:     StatusPlaced,
		Subtotal:        decimal.NewFromInt(20),
		ShippingCost:    decimal.NewFromInt(2),
		Tax:             decimal.Zero,
		TotalAmount:     decimal.NewFromInt(22),
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestPGRepo_CreateGetAndLookup(t *testing.T) {
	db := pgtest.Open(t)
	ctx := context.Background()
	repo := &PGRepo{DB: db}
	created := time.Now().UTC().Truncate(time.Microsecond)

	o := sampleOrder("ORD-1", created)
	o.PaymentSessionID = "cs_1"
	if err := repo.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, sampleOrder("ORD-1", created)); !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("want duplicate, got %v", err)
	}

	got, err := repo.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ShippingAddress != addr || len(got.Items) != 1 || !got.TotalAmount.Equal(o.TotalAmount) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	byRef, err := repo.FindByPaymentRef(ctx, "cs_1")
	if err != nil || byRef.ID != o.ID {
		t.Fatalf("find by session: %v %+v", err, byRef)
	}
	if _, err := repo.FindByPaymentRef(ctx, "pi_none"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestPGRepo_UpdateSerializesWriters(t *testing.T) {
	db := pgtest.Open(t)
	ctx := context.Background()
	repo := &PGRepo{DB: db}
	o := sampleOrder("ORD-2", time.Now().UTC())
	if err := repo.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	var g errgroup.Group
	transitions := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, changed, err := repo.Update(ctx, o.ID, func(o *Order) (bool, error) {
				paid, _ := o.MarkPaid("pi_1")
				return paid, nil
			})
			transitions <- changed
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("update: %v", err)
	}
	close(transitions)
	n := 0
	for changed := range transitions {
		if changed {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("%d writers saw the pending->paid transition, want 1", n)
	}
	got, _ := repo.FindByPaymentRef(ctx, "pi_1")
	if got.PaymentStatus != PaymentPaid {
		t.Fatalf("payment = %s, want paid", got.PaymentStatus)
	}
}

func TestPGRepo_ListAndStale(t *testing.T) {
	db := pgtest.Open(t)
	ctx := context.Background()
	repo := &PGRepo{DB: db}
	now := time.Now().UTC()

	old := sampleOrder("ORD-OLD", now.Add(-3*time.Hour))
	fresh := sampleOrder("ORD-NEW", now)
	for _, o := range []Order{old, fresh} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create %s: %v", o.OrderNumber, err)
		}
	}

	p, err := repo.List(ctx, ListFilter{Status: StatusPlaced, Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if p.Total != 2 || len(p.Orders) != 1 || p.Orders[0].OrderNumber != "ORD-NEW" {
		t.Fatalf("unexpected page: total=%d orders=%d", p.Total, len(p.Orders))
	}
	stale, err := repo.ListStalePending(ctx, MethodCard, now.Add(-2*time.Hour), 10)
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("stale = %+v, want only the old order", stale)
	}
}
