package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
)

type MemoryRepo struct {
	mu       sync.Mutex
	byID     map[string]Order
	byNumber map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Order{}, byNumber: map[string]string{}}
}

func (r *MemoryRepo) Create(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[o.ID]; ok {
		return fmt.Errorf("order id %s: %w", o.ID, apperr.ErrDuplicate)
	}
	if _, ok := r.byNumber[o.OrderNumber]; ok {
		return fmt.Errorf("order number %s: %w", o.OrderNumber, apperr.ErrDuplicate)
	}
	r.byID[o.ID] = o.Clone()
	r.byNumber[o.OrderNumber] = o.ID
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return o.Clone(), nil
}

func (r *MemoryRepo) FindByPaymentRef(_ context.Context, ref string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref != "" {
		for _, o := range r.byID {
			if o.PaymentIntentID == ref || o.PaymentSessionID == ref {
				return o.Clone(), nil
			}
		}
	}
	return Order{}, fmt.Errorf("order with payment ref %q: %w", ref, apperr.ErrNotFound)
}

func (r *MemoryRepo) Update(_ context.Context, id string, fn func(*Order) (bool, error)) (Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return Order{}, false, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	o = o.Clone()
	changed, err := fn(&o)
	if err != nil {
		return Order{}, false, err
	}
	if !changed {
		return o, false, nil
	}
	o.UpdatedAt = time.Now().UTC()
	r.byID[id] = o.Clone()
	return o, true, nil
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	return r.collect(func(o Order) bool { return o.UserID == userID }, newestFirst), nil
}

func (r *MemoryRepo) List(_ context.Context, f ListFilter) (Page, error) {
	f = f.normalize()
	all := r.collect(func(o Order) bool { return f.Status == "" || o.OrderStatus == f.Status }, newestFirst)
	start := min(f.offset(), len(all))
	end := min(start+f.Limit, len(all))
	return newPage(all[start:end], len(all), f), nil
}

func (r *MemoryRepo) ListStalePending(_ context.Context, method PaymentMethod, before time.Time, limit int) ([]Order, error) {
	out := r.collect(func(o Order) bool {
		return o.PaymentMethod == method && o.PaymentStatus == PaymentPending &&
			o.OrderStatus != StatusCancelled && o.CreatedAt.Before(before)
	}, func(a, b Order) bool { return a.CreatedAt.Before(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newestFirst(a, b Order) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.OrderNumber > b.OrderNumber
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (r *MemoryRepo) collect(keep func(Order) bool, less func(a, b Order) bool) []Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Order{}
	for _, o := range r.byID {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
