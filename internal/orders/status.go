package orders

type Status string

const (
	StatusPlaced     Status = "placed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPlaced:     {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// Unshipped reports whether the order's units are still in the warehouse, so
// cancelling from here gives them back to the ledger.
func (s Status) Unshipped() bool {
	return s == StatusPlaced || s == StatusProcessing
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// paid -> refunded is operator-only; the webhook path never asks for it.
var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:  {PaymentPaid: true, PaymentFailed: true},
	PaymentPaid:     {PaymentRefunded: true},
	PaymentFailed:   {},
	PaymentRefunded: {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

type PaymentMethod string

const (
	MethodCash PaymentMethod = "cash"
	MethodCard PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool { return m == MethodCash || m == MethodCard }
