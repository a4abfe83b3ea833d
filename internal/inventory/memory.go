package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
)

type MemoryLedger struct {
	mu       sync.Mutex
	products map[string]Product
}

func NewMemoryLedger(ps ...Product) *MemoryLedger {
	l := &MemoryLedger{products: make(map[string]Product, len(ps))}
	for _, p := range ps {
		l.Put(p)
	}
	return l
}

// Put inserts or replaces a catalog entry.
func (l *MemoryLedger) Put(p Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[p.ID] = clone(p)
}

func (l *MemoryLedger) Product(_ context.Context, id string) (Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", id, apperr.ErrNotFound)
	}
	return clone(p), nil
}

func (l *MemoryLedger) Decrement(_ context.Context, id string, qty int) error {
	if err := validQty(qty); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, apperr.ErrNotFound)
	}
	if p.Stock < qty {
		return &apperr.StockError{ProductID: id, Name: p.Name, Requested: qty, Available: p.Stock}
	}
	p.Stock -= qty
	l.products[id] = p
	return nil
}

func (l *MemoryLedger) Increment(_ context.Context, id string, qty int) error {
	if err := validQty(qty); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, apperr.ErrNotFound)
	}
	p.Stock += qty
	l.products[id] = p
	return nil
}

func clone(p Product) Product {
	if p.Sizes != nil {
		p.Sizes = append([]string(nil), p.Sizes...)
	}
	return p
}
