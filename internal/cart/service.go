package cart

import (
	"context"
	"fmt"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/inventory"
)

// Catalog is the read side of the inventory ledger.
type Catalog interface {
	Product(ctx context.Context, id string) (inventory.Product, error)
}

// Service is the single mutation surface for carts. Stock is checked here but
// not reserved; the order factory does the real decrement.
//
// Two devices editing the same cart at once resolve last-writer-wins across
// requests. Each call below is still atomic on its own.
type Service struct {
	Repo    Repo
	Catalog Catalog
}

func (s *Service) Get(ctx context.Context, userID string) (Cart, error) {
	return s.Repo.Get(ctx, userID)
}

func (s *Service) AddItem(ctx context.Context, userID, productID, size string, qty int) (Cart, error) {
	if qty < 1 {
		return Cart{}, apperr.Invalid("quantity must be at least 1")
	}
	p, err := s.Catalog.Product(ctx, productID)
	if err != nil {
		return Cart{}, err
	}
	if p.Stock < qty {
		return Cart{}, &apperr.StockError{ProductID: p.ID, Name: p.Name, Requested: qty, Available: p.Stock}
	}
	return s.Repo.Update(ctx, userID, func(c *Cart) error {
		if i := c.index(productID, size); i >= 0 {
			c.Items[i].Quantity += qty
			c.Items[i].UnitPrice = p.Price
			return nil
		}
		c.Items = append(c.Items, Item{ProductID: productID, Size: size, Quantity: qty, UnitPrice: p.Price})
		return nil
	})
}

// SetQuantity replaces a line's quantity; qty <= 0 drops the line.
func (s *Service) SetQuantity(ctx context.Context, userID, productID, size string, qty int) (Cart, error) {
	var p inventory.Product
	if qty > 0 {
		var err error
		if p, err = s.Catalog.Product(ctx, productID); err != nil {
			return Cart{}, err
		}
	}
	return s.Repo.Update(ctx, userID, func(c *Cart) error {
		i := c.index(productID, size)
		if i < 0 {
			return fmt.Errorf("%s/%s: %w", productID, size, apperr.ErrItemNotFound)
		}
		if qty <= 0 {
			c.remove(i)
			return nil
		}
		if p.Stock < qty {
			return &apperr.StockError{ProductID: p.ID, Name: p.Name, Requested: qty, Available: p.Stock}
		}
		c.Items[i].Quantity = qty
		return nil
	})
}

// RemoveItem is a no-op when the line is absent.
func (s *Service) RemoveItem(ctx context.Context, userID, productID, size string) (Cart, error) {
	return s.Repo.Update(ctx, userID, func(c *Cart) error {
		if i := c.index(productID, size); i >= 0 {
			c.remove(i)
		}
		return nil
	})
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	_, err := s.Repo.Update(ctx, userID, func(c *Cart) error {
		c.Items = nil
		return nil
	})
	return err
}
