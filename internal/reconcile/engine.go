// Package reconcile applies asynchronous payment settlements to orders and carts.
// Every write is guarded by the order's current state, so duplicate and
// out-of-order deliveries converge on the same result.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/inventory"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/storefront-checkout/internal/reconcile")

type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

type Engine struct {
	Orders    orders.Repo
	Ledger    inventory.Ledger
	Carts     CartClearer
	Dedup     *redisx.Deduper
	Events    orders.Publisher
	Metrics   *metrics.Metrics
	Secret    string
	Tolerance time.Duration
	Namespace string
	Producer  string
	Now       func() time.Time
}

// HandleWebhook verifies and applies one gateway notification. A nil return
// means the event is acknowledged, including duplicates, unknown types and
// payments with no matching order. Signature and namespace failures return
// before anything is read or written.
func (e *Engine) HandleWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reconcile.HandleWebhook")
	var evType, outcome string
	defer func() {
		if outcome == "" {
			outcome = "error"
		}
		e.Metrics.Webhook(evType, outcome)
		e.Metrics.Observe("handle_webhook", start, err)
		span.SetAttributes(attribute.String("webhook.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := payment.VerifySignature(payload, signature, e.Secret, e.Tolerance, e.now()); err != nil {
		outcome = "rejected"
		return err
	}
	ev, err := payment.ParseEvent(payload)
	if err != nil {
		outcome = "rejected"
		return err
	}
	evType = ev.Type
	span.SetAttributes(attribute.String("webhook.event_id", ev.ID), attribute.String("webhook.type", ev.Type))
	log := logging.FromContext(ctx).With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
	ctx = logging.ContextWithLogger(ctx, log)

	if ev.AppID() != e.Namespace {
		outcome = "rejected"
		log.Warn("webhook_wrong_namespace", zap.String("app_id", ev.AppID()))
		return fmt.Errorf("%w: %q", apperr.ErrWrongNamespace, ev.AppID())
	}

	var apply func(context.Context, payment.Event) (string, error)
	switch ev.Type {
	case payment.EventSucceeded:
		apply = e.applySucceeded
	case payment.EventCanceled, payment.EventFailed:
		apply = e.applyFailed
	default:
		outcome = "ignored"
		log.Debug("webhook_ignored")
		return nil
	}

	seen, serr := e.Dedup.Seen(ctx, ev.ID)
	if serr != nil {
		log.Warn("webhook_dedup_unavailable", zap.Error(serr))
	}
	if seen {
		outcome = "duplicate"
		log.Info("webhook_duplicate")
		return nil
	}

	outcome, err = apply(ctx, ev)
	if err != nil {
		log.Error("webhook_processing_failed", zap.Error(err))
		return err
	}
	if merr := e.Dedup.Mark(context.WithoutCancel(ctx), ev.ID); merr != nil {
		log.Warn("webhook_dedup_mark_failed", zap.Error(merr))
	}
	return nil
}

// resolve finds the order by the id in metadata, falling back to the gateway object id.
func (e *Engine) resolve(ctx context.Context, ev payment.Event) (orders.Order, error) {
	if id := ev.OrderID(); id != "" {
		o, err := e.Orders.Get(ctx, id)
		if err == nil || !errors.Is(err, apperr.ErrNotFound) || ev.Data.Object.ID == "" {
			return o, err
		}
	}
	return e.Orders.FindByPaymentRef(ctx, ev.Data.Object.ID)
}

func (e *Engine) applySucceeded(ctx context.Context, ev payment.Event) (string, error) {
	log := logging.FromContext(ctx)
	o, err := e.resolve(ctx, ev)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Warn("webhook_order_not_found", zap.String("order_id", ev.OrderID()), zap.String("payment_ref", ev.Data.Object.ID))
		return "not_found", nil
	}
	if err != nil {
		return "", err
	}

	var paid bool
	var prev orders.PaymentStatus
	o, _, err = e.Orders.Update(ctx, o.ID, func(o *orders.Order) (bool, error) {
		prev = o.PaymentStatus
		var changed bool
		paid, changed = o.MarkPaid(ev.Data.Object.ID)
		return changed, nil
	})
	if err != nil {
		return "", err
	}
	log = log.With(zap.String("order_id", o.ID))

	if !paid {
		if prev == orders.PaymentFailed {
			log.Warn("payment_succeeded_after_failure", zap.String("payment_ref", ev.Data.Object.ID))
		}
		return "noop", nil
	}

	if err := e.Carts.Clear(ctx, o.UserID); err != nil {
		log.Error("cart_clear_failed", zap.String("user_id", o.UserID), zap.Error(err))
	}
	log.Info("payment_confirmed", zap.String("payment_intent_id", o.PaymentIntentID))
	orders.Emit(ctx, e.Events, e.Producer, orders.EventPaymentConfirmed, o, "")
	return "applied", nil
}

func (e *Engine) applyFailed(ctx context.Context, ev payment.Event) (string, error) {
	o, err := e.resolve(ctx, ev)
	if errors.Is(err, apperr.ErrNotFound) {
		logging.FromContext(ctx).Warn("webhook_order_not_found", zap.String("order_id", ev.OrderID()), zap.String("payment_ref", ev.Data.Object.ID))
		return "not_found", nil
	}
	if err != nil {
		return "", err
	}
	changed, err := e.Fail(ctx, o.ID, ev.Type)
	if err != nil {
		return "", err
	}
	if !changed {
		return "noop", nil
	}
	return "applied", nil
}

// Fail marks a pending payment failed, cancels the order when allowed and
// gives unshipped units back. It reports whether the order changed; a
// payment already settled either way is left alone.
func (e *Engine) Fail(ctx context.Context, orderID, reason string) (bool, error) {
	var from orders.Status
	o, changed, err := e.Orders.Update(ctx, orderID, func(o *orders.Order) (bool, error) {
		from = o.OrderStatus
		return o.MarkFailed(), nil
	})
	if err != nil || !changed {
		return false, err
	}

	log := logging.FromContext(ctx).With(zap.String("order_id", o.ID), zap.String("reason", reason))
	if from.Unshipped() && o.OrderStatus == orders.StatusCancelled {
		if err := inventory.ReleaseAll(context.WithoutCancel(ctx), e.Ledger, o.StockLines()); err != nil {
			log.Error("stock_release_failed", zap.Error(err))
		}
	}
	log.Info("payment_failed", zap.String("order_status", string(o.OrderStatus)))
	event := orders.EventOrderCancelled
	if o.OrderStatus != orders.StatusCancelled {
		event = orders.EventOrderStatusChanged
	}
	orders.Emit(ctx, e.Events, e.Producer, event, o, reason)
	return true, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
