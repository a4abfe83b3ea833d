package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrItemNotFound      = errors.New("item not in cart")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrGateway           = errors.New("payment gateway error")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrWrongNamespace    = errors.New("event belongs to another application")
	ErrUnauthorized      = errors.New("not authorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicate         = errors.New("duplicate key")
)

// StockError names the product that could not be served.
type StockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	if e.Available >= 0 {
		return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d", name, e.Requested)
}

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }

// Stock returns the *StockError in err's chain, if any.
func Stock(err error) (*StockError, bool) {
	var se *StockError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Invalid wraps ErrInvalidInput with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
