package cart

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type MemoryRepo struct {
	mu    sync.Mutex
	carts map[string]Cart
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{carts: make(map[string]Cart)}
}

func (r *MemoryRepo) Get(_ context.Context, userID string) (Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[userID]
	if !ok {
		return Cart{UserID: userID, Items: []Item{}, TotalAmount: decimal.Zero}, nil
	}
	return c.Clone(), nil
}

func (r *MemoryRepo) Update(_ context.Context, userID string, fn func(*Cart) error) (Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[userID]
	if !ok {
		c = Cart{UserID: userID}
	}
	c = c.Clone()
	if err := fn(&c); err != nil {
		return Cart{}, err
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
	c.Recalculate()
	c.UpdatedAt = time.Now().UTC()
	r.carts[userID] = c
	return c.Clone(), nil
}
