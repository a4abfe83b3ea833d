package payment

import (
	"context"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/identity"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Checkout opens a gateway session for an existing card order.
type Checkout struct {
	Orders   orders.Repo
	Gateway  Gateway
	Metrics  *metrics.Metrics
	Defaults Redirects
}

func (c *Checkout) StartSession(ctx context.Context, actor identity.Actor, orderID string, r Redirects) (s Session, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "payment.StartSession", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer func() {
		c.Metrics.Observe("start_session", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	o, err := c.Orders.Get(ctx, orderID)
	if err != nil {
		return Session{}, err
	}
	if o.UserID != actor.UserID {
		return Session{}, apperr.ErrUnauthorized
	}
	if o.PaymentMethod != orders.MethodCard {
		return Session{}, apperr.Invalid("order %s is not a card order", o.OrderNumber)
	}
	if o.PaymentStatus != orders.PaymentPending || o.OrderStatus == orders.StatusCancelled {
		return Session{}, apperr.Invalid("order %s is not awaiting payment", o.OrderNumber)
	}

	if r.SuccessURL == "" {
		r.SuccessURL = c.Defaults.SuccessURL
	}
	if r.CancelURL == "" {
		r.CancelURL = c.Defaults.CancelURL
	}
	s, err = c.Gateway.CreateCheckoutSession(ctx, SessionRequest{
		Order:        o,
		Items:        o.Items,
		ShippingCost: o.ShippingCost,
		Redirects:    r,
	})
	if err != nil {
		return Session{}, err
	}

	log := logging.FromContext(ctx).With(zap.String("order_id", o.ID), zap.String("session_id", s.ID))
	if _, _, err := c.Orders.Update(ctx, o.ID, func(o *orders.Order) (bool, error) {
		if o.PaymentSessionID != "" {
			return false, nil
		}
		o.PaymentSessionID = s.ID
		return true, nil
	}); err != nil {
		// the webhook still carries orderId in metadata, so the session stays usable
		log.Error("payment_session_record_failed", zap.Error(err))
	}
	log.Info("payment_session_created")
	return s, nil
}
