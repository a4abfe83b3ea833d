package orders

// MarkPaid applies a confirmed payment. pending becomes paid; every other
// payment status is left alone. intentID is recorded only when none is set yet.
// paid reports the pending->paid transition, changed reports any write.
func (o *Order) MarkPaid(intentID string) (paid, changed bool) {
	if intentID != "" && o.PaymentIntentID == "" {
		o.PaymentIntentID = intentID
		changed = true
	}
	if CanTransitionPayment(o.PaymentStatus, PaymentPaid) {
		o.PaymentStatus = PaymentPaid
		return true, true
	}
	return false, changed
}

// MarkFailed applies a failed, cancelled or expired payment: pending becomes
// failed and the order is cancelled. Terminal payment states are left alone.
func (o *Order) MarkFailed() bool {
	if !CanTransitionPayment(o.PaymentStatus, PaymentFailed) {
		return false
	}
	o.PaymentStatus = PaymentFailed
	if CanTransition(o.OrderStatus, StatusCancelled) {
		o.OrderStatus = StatusCancelled
	}
	return true
}
