package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Product is the catalog view this subsystem reads. Stock is written only through a Ledger.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
	Sizes []string        `json:"sizes,omitempty"`
}

// Ledger owns product stock. Decrement must be a single conditional update
// (stock >= qty) so two checkouts can never both take the last unit.
type Ledger interface {
	Product(ctx context.Context, id string) (Product, error)
	Decrement(ctx context.Context, id string, qty int) error
	Increment(ctx context.Context, id string, qty int) error
}

type Line struct {
	ProductID string
	Qty       int
}

// DecrementAll takes every line or none. When a line fails, the lines already
// taken are given back in reverse order before the error is returned.
// compensated reports how many lines were given back.
func DecrementAll(ctx context.Context, l Ledger, lines []Line) (compensated int, err error) {
	done := make([]Line, 0, len(lines))
	for _, ln := range lines {
		if err := l.Decrement(ctx, ln.ProductID, ln.Qty); err != nil {
			// compensation must run even if the caller's ctx is gone
			cctx := context.WithoutCancel(ctx)
			for i := len(done) - 1; i >= 0; i-- {
				if ierr := l.Increment(cctx, done[i].ProductID, done[i].Qty); ierr != nil {
					logging.FromContext(ctx).Error("stock_compensation_failed",
						zap.String("product_id", done[i].ProductID),
						zap.Int("qty", done[i].Qty),
						zap.Error(ierr))
					continue
				}
				compensated++
			}
			return compensated, err
		}
		done = append(done, ln)
	}
	return 0, nil
}

// ReleaseAll returns stock for every line. It keeps going past failures and
// reports the first one.
func ReleaseAll(ctx context.Context, l Ledger, lines []Line) error {
	var first error
	for _, ln := range lines {
		if err := l.Increment(ctx, ln.ProductID, ln.Qty); err != nil {
			logging.FromContext(ctx).Error("stock_release_failed",
				zap.String("product_id", ln.ProductID),
				zap.Int("qty", ln.Qty),
				zap.Error(err))
			if first == nil {
				first = fmt.Errorf("release %s: %w", ln.ProductID, err)
			}
		}
	}
	return first
}

func validQty(qty int) error {
	if qty <= 0 {
		return apperr.Invalid("quantity must be positive, got %d", qty)
	}
	return nil
}
