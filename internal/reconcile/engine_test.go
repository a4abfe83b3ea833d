package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/cart"
	"github.com/ariefcatur/storefront-checkout/internal/inventory"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	secret    = "whsec_test"
	namespace = "forever-app"
)

type env struct {
	ledger  *inventory.MemoryLedger
	carts   *cart.Service
	repo    *orders.MemoryRepo
	events  *orders.MemoryPublisher
	factory *orders.Factory
	engine  *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ledger := inventory.NewMemoryLedger(
		inventory.Product{ID: "p1", Name: "Tee", Price: decimal.RequireFromString("10.00"), Stock: 10},
	)
	carts := &cart.Service{Repo: cart.NewMemoryRepo(), Catalog: ledger}
	repo := orders.NewMemoryRepo()
	events := &orders.MemoryPublisher{}
	return &env{
		ledger: ledger,
		carts:  carts,
		repo:   repo,
		events: events,
		factory: &orders.Factory{
			Carts: carts, Ledger: ledger, Repo: repo, Events: events,
			ShippingCost: decimal.NewFromInt(2),
		},
		engine: &Engine{
			Orders: repo, Ledger: ledger, Carts: carts, Events: events,
			Secret: secret, Tolerance: 5 * time.Minute, Namespace: namespace,
		},
	}
}

func (e *env) cardOrder(t *testing.T, user string) orders.Order {
	t.Helper()
	ctx := context.Background()
	if _, err := e.carts.AddItem(ctx, user, "p1", "M", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	o, err := e.factory.CreateOrder(ctx, user, orders.PlaceOrderInput{
		ShippingAddress: orders.Address{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US"},
		PaymentMethod:   orders.MethodCard,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

func (e *env) stock(t *testing.T) int {
	t.Helper()
	p, err := e.ledger.Product(context.Background(), "p1")
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	return p.Stock
}

func (e *env) order(t *testing.T, id string) orders.Order {
	t.Helper()
	o, err := e.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return o
}

func event(id, typ, orderID, objectID, appID string) []byte {
	meta := map[string]string{"appId": appID}
	if orderID != "" {
		meta["orderId"] = orderID
	}
	b, _ := json.Marshal(map[string]any{
		"id":      id,
		"type":    typ,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": map[string]any{"id": objectID, "metadata": meta}},
	})
	return b
}

func (e *env) deliver(t *testing.T, payload []byte) error {
	t.Helper()
	return e.engine.HandleWebhook(context.Background(), payload, payment.Sign(payload, secret, time.Now()))
}

func TestHandleWebhook_Succeeded(t *testing.T) {
	e := newEnv(t)
	o := e.cardOrder(t, "u1")

	if err := e.deliver(t, event("evt_1", payment.EventSucceeded, o.ID, "pi_1", namespace)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got := e.order(t, o.ID)
	if got.PaymentStatus != orders.PaymentPaid || got.PaymentIntentID != "pi_1" {
		t.Fatalf("payment=%s intent=%s", got.PaymentStatus, got.PaymentIntentID)
	}
	c, _ := e.carts.Get(context.Background(), "u1")
	if !c.IsEmpty() {
		t.Fatal("confirmed payment must clear the cart")
	}

	// a redelivery under a new event id, carrying a different intent
	if err := e.deliver(t, event("evt_2", payment.EventSucceeded, o.ID, "pi_other", namespace)); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if got := e.order(t, o.ID); got.PaymentIntentID != "pi_1" {
		t.Fatalf("intent overwritten with %s", got.PaymentIntentID)
	}
	if n := e.events.Count(orders.EventPaymentConfirmed); n != 1 {
		t.Fatalf("PaymentConfirmed published %d times", n)
	}
}

func TestHandleWebhook_ClearsOnlyOnTransition(t *testing.T) {
	e := newEnv(t)
	o := e.cardOrder(t, "u1")
	_ = e.deliver(t, event("evt_1", payment.EventSucceeded, o.ID, "pi_1", namespace))

	// the user starts a new cart; a late duplicate must not wipe it
	if _, err := e.carts.AddItem(context.Background(), "u1", "p1", "M", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	_ = e.deliver(t, event("evt_1b", payment.EventSucceeded, o.ID, "pi_1", namespace))
	c, _ := e.carts.Get(context.Background(), "u1")
	if c.IsEmpty() {
		t.Fatal("duplicate success cleared a newer cart")
	}
}

func TestHandleWebhook_FallbackToSessionRef(t *testing.T) {
	e := newEnv(t)
	o := e.cardOrder(t, "u1")
	if _, _, err := e.repo.Update(context.Background(), o.ID, func(o *orders.Order) (bool, error) {
		o.PaymentSessionID = "cs_1"
		return true, nil
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := e.deliver(t, event("evt_1", payment.EventSucceeded, "", "cs_1", namespace)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := e.order(t, o.ID); got.PaymentStatus != orders.PaymentPaid {
		t.Fatalf("payment = %s, want paid", got.PaymentStatus)
	}
}

func TestHandleWebhook_Failed(t *testing.T) {
	for _, typ := range []string{payment.EventFailed, payment.EventCanceled} {
		t.Run(typ, func(t *testing.T) {
			e := newEnv(t)
			o := e.cardOrder(t, "u1")
			if e.stock(t) != 8 {
				t.Fatalf("stock = %d after checkout", e.stock(t))
			}

			if err := e.deliver(t, event("evt_1", typ, o.ID, "pi_1", namespace)); err != nil {
				t.Fatalf("deliver: %v", err)
			}
			got := e.order(t, o.ID)
			if got.PaymentStatus != orders.PaymentFailed || got.OrderStatus != orders.StatusCancelled {
				t.Fatalf("status = %s/%s", got.PaymentStatus, got.OrderStatus)
			}
			if e.stock(t) != 10 {
				t.Fatalf("stock = %d, want 10", e.stock(t))
			}

			_ = e.deliver(t, event("evt_2", typ, o.ID, "pi_1", namespace))
			if e.stock(t) != 10 {
				t.Fatalf("stock released twice: %d", e.stock(t))
			}
			c, _ := e.carts.Get(context.Background(), "u1")
			if c.IsEmpty() {
				t.Fatal("failed payment must leave the cart for a retry")
			}
		})
	}
}

func TestHandleWebhook_TerminalStatesHold(t *testing.T) {
	t.Run("failure after paid", func(t *testing.T) {
		e := newEnv(t)
		o := e.cardOrder(t, "u1")
		_ = e.deliver(t, event("evt_1", payment.EventSucceeded, o.ID, "pi_1", namespace))
		if err := e.deliver(t, event("evt_2", payment.EventFailed, o.ID, "pi_1", namespace)); err != nil {
			t.Fatalf("deliver: %v", err)
		}
		got := e.order(t, o.ID)
		if got.PaymentStatus != orders.PaymentPaid || got.OrderStatus != orders.StatusPlaced {
			t.Fatalf("paid order regressed to %s/%s", got.PaymentStatus, got.OrderStatus)
		}
		if e.stock(t) != 8 {
			t.Fatalf("stock = %d, want 8", e.stock(t))
		}
	})

	t.Run("success after failure", func(t *testing.T) {
		e := newEnv(t)
		o := e.cardOrder(t, "u1")
		_ = e.deliver(t, event("evt_1", payment.EventFailed, o.ID, "pi_1", namespace))
		if err := e.deliver(t, event("evt_2", payment.EventSucceeded, o.ID, "pi_1", namespace)); err != nil {
			t.Fatalf("deliver: %v", err)
		}
		if got := e.order(t, o.ID); got.PaymentStatus != orders.PaymentFailed {
			t.Fatalf("payment = %s, want failed", got.PaymentStatus)
		}
		if e.events.Count(orders.EventPaymentConfirmed) != 0 {
			t.Fatal("no confirmation for a failed order")
		}
	})
}

func TestHandleWebhook_Rejections(t *testing.T) {
	e := newEnv(t)
	o := e.cardOrder(t, "u1")
	ctx := context.Background()

	payload := event("evt_1", payment.EventSucceeded, o.ID, "pi_1", namespace)
	if err := e.engine.HandleWebhook(ctx, payload, payment.Sign(payload, "wrong", time.Now())); !errors.Is(err, apperr.ErrInvalidSignature) {
		t.Fatalf("want invalid signature, got %v", err)
	}
	if err := e.deliver(t, event("evt_2", payment.EventSucceeded, o.ID, "pi_1", "other-app")); !errors.Is(err, apperr.ErrWrongNamespace) {
		t.Fatalf("want wrong namespace, got %v", err)
	}
	if err := e.deliver(t, []byte(`{"no":"id"}`)); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("want invalid input, got %v", err)
	}
	if got := e.order(t, o.ID); got.PaymentStatus != orders.PaymentPending {
		t.Fatalf("rejected events changed the order: %s", got.PaymentStatus)
	}
}

func TestHandleWebhook_AcknowledgedNoOps(t *testing.T) {
	e := newEnv(t)
	if err := e.deliver(t, event("evt_1", "charge.dispute.created", "o1", "dp_1", namespace)); err != nil {
		t.Fatalf("unknown type: %v", err)
	}
	if err := e.deliver(t, event("evt_2", payment.EventSucceeded, "missing", "pi_missing", namespace)); err != nil {
		t.Fatalf("unmatched payment must be dropped, got %v", err)
	}
	if err := e.deliver(t, event("evt_3", payment.EventFailed, "", "pi_missing", namespace)); err != nil {
		t.Fatalf("unmatched failure must be dropped, got %v", err)
	}
}

func TestHandleWebhook_ConcurrentDuplicates(t *testing.T) {
	e := newEnv(t)
	paidOrder := e.cardOrder(t, "u1")
	failedOrder := e.cardOrder(t, "u2")

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			return e.deliver(t, event("evt_ok", payment.EventSucceeded, paidOrder.ID, "pi_1", namespace))
		})
		g.Go(func() error {
			return e.deliver(t, event("evt_fail", payment.EventFailed, failedOrder.ID, "pi_2", namespace))
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if n := e.events.Count(orders.EventPaymentConfirmed); n != 1 {
		t.Fatalf("PaymentConfirmed = %d, want 1", n)
	}
	if n := e.events.Count(orders.EventOrderCancelled); n != 1 {
		t.Fatalf("OrderCancelled = %d, want 1", n)
	}
	// 10 - 2 (paid order) - 2 (failed order) + 2 (released once)
	if e.stock(t) != 8 {
		t.Fatalf("stock = %d, want 8", e.stock(t))
	}
}

func TestHandleWebhook_DedupFastPath(t *testing.T) {
	e := newEnv(t)
	o := e.cardOrder(t, "u1")
	db, mock := redismock.NewClientMock()
	e.engine.Dedup = &redisx.Deduper{Redis: db, Consumer: redisx.ConsumerWebhook}

	mock.ExpectExists("dedup:webhook:evt_1").SetVal(1)
	if err := e.deliver(t, event("evt_1", payment.EventSucceeded, o.ID, "pi_1", namespace)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := e.order(t, o.ID); got.PaymentStatus != orders.PaymentPending {
		t.Fatalf("handled event was applied again: %s", got.PaymentStatus)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

type brokenRepo struct {
	*orders.MemoryRepo
	mu    sync.Mutex
	fails int
}

func (r *brokenRepo) Update(ctx context.Context, id string, fn func(*orders.Order) (bool, error)) (orders.Order, bool, error) {
	r.mu.Lock()
	if r.fails > 0 {
		r.fails--
		r.mu.Unlock()
		return orders.Order{}, false, errors.New("connection reset")
	}
	r.mu.Unlock()
	return r.MemoryRepo.Update(ctx, id, fn)
}

func TestHandleWebhook_ProcessingErrorLeavesNoMark(t *testing.T) {
	e := newEnv(t)
	o := e.cardOrder(t, "u1")
	e.engine.Orders = &brokenRepo{MemoryRepo: e.repo, fails: 1}
	db, mock := redismock.NewClientMock()
	e.engine.Dedup = &redisx.Deduper{Redis: db, Consumer: redisx.ConsumerWebhook}
	key := "dedup:webhook:evt_1"

	payload := event("evt_1", payment.EventSucceeded, o.ID, "pi_1", namespace)
	mock.ExpectExists(key).SetVal(0)
	if err := e.deliver(t, payload); err == nil {
		t.Fatal("storage failure must surface so the gateway retries")
	}

	mock.ExpectExists(key).SetVal(0)
	mock.ExpectSet(key, "1", redisx.TTLDedup).SetVal("OK")
	if err := e.deliver(t, payload); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := e.order(t, o.ID); got.PaymentStatus != orders.PaymentPaid {
		t.Fatalf("payment = %s after retry", got.PaymentStatus)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestHandleWebhook_RetryAppliesWhenRedisFails(t *testing.T) {
	e := newEnv(t)
	o := e.cardOrder(t, "u1")
	e.engine.Orders = &brokenRepo{MemoryRepo: e.repo, fails: 1}
	db, mock := redismock.NewClientMock()
	e.engine.Dedup = &redisx.Deduper{Redis: db, Consumer: redisx.ConsumerWebhook}
	key := "dedup:webhook:evt_1"
	payload := event("evt_1", payment.EventSucceeded, o.ID, "pi_1", namespace)

	// first delivery fails in storage while Redis is timing out
	mock.ExpectExists(key).SetErr(errors.New("i/o timeout"))
	if err := e.deliver(t, payload); err == nil {
		t.Fatal("storage failure must surface so the gateway retries")
	}

	mock.ExpectExists(key).SetVal(0)
	mock.ExpectSet(key, "1", redisx.TTLDedup).SetErr(errors.New("i/o timeout"))
	if err := e.deliver(t, payload); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got := e.order(t, o.ID)
	if got.PaymentStatus != orders.PaymentPaid {
		t.Fatalf("payment = %s after retry, want paid", got.PaymentStatus)
	}
	if c, _ := e.carts.Get(context.Background(), "u1"); len(c.Items) != 0 {
		t.Fatalf("cart still has %d items after payment", len(c.Items))
	}

	// an unmarked redelivery falls through to the state guard
	mock.ExpectExists(key).SetVal(0)
	mock.ExpectSet(key, "1", redisx.TTLDedup).SetVal("OK")
	if err := e.deliver(t, payload); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if n := e.events.Count(orders.EventPaymentConfirmed); n != 1 {
		t.Fatalf("PaymentConfirmed emitted %d times, want 1", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
