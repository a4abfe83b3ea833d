package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/identity"
	"github.com/ariefcatur/storefront-checkout/internal/inventory"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"go.uber.org/zap"
)

// Service covers order reads and the operator-only writes.
type Service struct {
	Repo     Repo
	Ledger   inventory.Ledger
	Events   Publisher
	Producer string
	Now      func() time.Time
}

func (s *Service) Get(ctx context.Context, actor identity.Actor, id string) (Order, error) {
	o, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != actor.UserID && !actor.IsOperator() {
		return Order{}, apperr.ErrUnauthorized
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context, actor identity.Actor) ([]Order, error) {
	return s.Repo.ListByUser(ctx, actor.UserID)
}

func (s *Service) ListAll(ctx context.Context, actor identity.Actor, f ListFilter) (Page, error) {
	if !actor.IsOperator() {
		return Page{}, apperr.ErrUnauthorized
	}
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, apperr.Invalid("unknown order status %q", f.Status)
	}
	return s.Repo.List(ctx, f)
}

// UpdateStatus moves an order along placed -> processing -> shipped ->
// delivered, or to cancelled from any non-terminal status. Asking for the
// current status is a no-op. Cancelling an unshipped order gives its units back,
// and a still-pending payment is marked failed so a late capture can't revive it.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.Actor, id string, to Status) (Order, error) {
	if !actor.IsOperator() {
		return Order{}, apperr.ErrUnauthorized
	}
	if !to.Valid() {
		return Order{}, apperr.Invalid("unknown order status %q", to)
	}

	var from Status
	o, changed, err := s.Repo.Update(ctx, id, func(o *Order) (bool, error) {
		from = o.OrderStatus
		if o.OrderStatus == to {
			return false, nil
		}
		if o.OrderStatus.Terminal() {
			return false, fmt.Errorf("%w: order is already %s", apperr.ErrInvalidTransition, o.OrderStatus)
		}
		if !CanTransition(o.OrderStatus, to) {
			return false, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, o.OrderStatus, to)
		}
		o.OrderStatus = to
		if to == StatusDelivered && o.DeliveredAt == nil {
			t := s.now()
			o.DeliveredAt = &t
		}
		if to == StatusCancelled && o.PaymentStatus == PaymentPending {
			o.PaymentStatus = PaymentFailed
		}
		return true, nil
	})
	if err != nil || !changed {
		return o, err
	}

	log := logging.FromContext(ctx).With(zap.String("order_id", o.ID), zap.String("operator", actor.UserID))
	if to == StatusCancelled && from.Unshipped() {
		if err := inventory.ReleaseAll(context.WithoutCancel(ctx), s.Ledger, o.StockLines()); err != nil {
			log.Error("order_cancel_release_failed", zap.Error(err))
		}
	}
	log.Info("order_status_changed", zap.String("from", string(from)), zap.String("to", string(to)))
	event := EventOrderStatusChanged
	if to == StatusCancelled {
		event = EventOrderCancelled
	}
	Emit(ctx, s.Events, s.Producer, event, o, "operator")
	return o, nil
}

// MarkRefunded records a refund made outside this system. Only paid orders qualify.
func (s *Service) MarkRefunded(ctx context.Context, actor identity.Actor, id string) (Order, error) {
	if !actor.IsOperator() {
		return Order{}, apperr.ErrUnauthorized
	}
	o, changed, err := s.Repo.Update(ctx, id, func(o *Order) (bool, error) {
		if o.PaymentStatus == PaymentRefunded {
			return false, nil
		}
		if !CanTransitionPayment(o.PaymentStatus, PaymentRefunded) {
			return false, fmt.Errorf("%w: payment %s -> refunded", apperr.ErrInvalidTransition, o.PaymentStatus)
		}
		o.PaymentStatus = PaymentRefunded
		return true, nil
	})
	if err != nil || !changed {
		return o, err
	}
	logging.FromContext(ctx).Info("order_refunded", zap.String("order_id", o.ID), zap.String("operator", actor.UserID))
	Emit(ctx, s.Events, s.Producer, EventOrderRefunded, o, "operator")
	return o, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
