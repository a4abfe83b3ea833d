package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/cart"
	"github.com/ariefcatur/storefront-checkout/internal/inventory"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/storefront-checkout/internal/orders")

// CartStore is the slice of the cart service checkout needs.
type CartStore interface {
	Get(ctx context.Context, userID string) (cart.Cart, error)
	Clear(ctx context.Context, userID string) error
}

type PlaceOrderInput struct {
	ShippingAddress Address       `json:"shippingAddress"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	Notes           string        `json:"notes"`
}

// Factory turns a cart into an order, taking the stock at creation time so a
// pending card payment cannot be oversold.
type Factory struct {
	Carts        CartStore
	Ledger       inventory.Ledger
	Repo         Repo
	Events       Publisher
	Metrics      *metrics.Metrics
	ShippingCost decimal.Decimal
	Producer     string
	Now          func() time.Time
	NewNumber    func(time.Time) string
}

func (f *Factory) CreateOrder(ctx context.Context, userID string, in PlaceOrderInput) (o Order, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "orders.CreateOrder", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("payment_method", string(in.PaymentMethod)),
	))
	defer func() {
		f.Metrics.Observe("create_order", start, err)
		endSpan(span, err)
	}()

	if in.PaymentMethod == "" {
		in.PaymentMethod = MethodCash
	}
	if !in.PaymentMethod.Valid() {
		return Order{}, apperr.Invalid("payment method must be cash or card")
	}
	if err := in.ShippingAddress.Validate(); err != nil {
		return Order{}, err
	}

	c, err := f.Carts.Get(ctx, userID)
	if err != nil {
		return Order{}, err
	}
	if c.IsEmpty() {
		return Order{}, apperr.ErrEmptyCart
	}

	items := make([]Item, 0, len(c.Items))
	lines := make([]inventory.Line, 0, len(c.Items))
	for _, it := range c.Items {
		p, err := f.Ledger.Product(ctx, it.ProductID)
		if err != nil {
			return Order{}, err
		}
		items = append(items, Item{ProductID: it.ProductID, Name: p.Name, Price: it.UnitPrice, Quantity: it.Quantity, Size: it.Size})
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Qty: it.Quantity})
	}

	compensated, err := inventory.DecrementAll(ctx, f.Ledger, lines)
	f.Metrics.Compensated(compensated)
	if err != nil {
		return Order{}, err
	}

	now := f.now()
	subtotal := c.TotalAmount
	tax := decimal.Zero
	o = Order{
		ID:              uuid.NewString(),
		OrderNumber:     f.number(now),
		UserID:          userID,
		Items:           items,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   PaymentPending,
		OrderStatus:     StatusPlaced,
		Subtotal:        subtotal,
		ShippingCost:    f.ShippingCost,
		Tax:             tax,
		TotalAmount:     subtotal.Add(f.ShippingCost).Add(tax),
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := f.Repo.Create(ctx, o); err != nil {
		// the order never existed, so the units go back
		if rerr := inventory.ReleaseAll(context.WithoutCancel(ctx), f.Ledger, lines); rerr != nil {
			err = errors.Join(err, rerr)
		}
		if errors.Is(err, apperr.ErrDuplicate) {
			return Order{}, fmt.Errorf("order number collision: %w", err)
		}
		return Order{}, err
	}

	log := logging.FromContext(ctx)
	if o.PaymentMethod == MethodCash {
		if err := f.Carts.Clear(ctx, userID); err != nil {
			log.Error("cart_clear_failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	log.Info("order_placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("payment_method", string(o.PaymentMethod)),
		zap.String("total", o.TotalAmount.StringFixed(2)))
	Emit(ctx, f.Events, f.Producer, EventOrderPlaced, o, "")
	return o, nil
}

func (f *Factory) now() time.Time {
	if f.Now != nil {
		return f.Now().UTC()
	}
	return time.Now().UTC()
}

func (f *Factory) number(t time.Time) string {
	if f.NewNumber != nil {
		return f.NewNumber(t)
	}
	return NewOrderNumber(t)
}

// NewOrderNumber is a timestamp plus 32 random bits, e.g. ORD-20251015093000-9F2C41AB.
func NewOrderNumber(t time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + t.UTC().Format("20060102150405") + "-" + suffix
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
