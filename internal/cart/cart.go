package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ProductID string          `json:"productId"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func (it Item) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Cart belongs to exactly one user. TotalAmount is derived; never accept it from a client.
type Cart struct {
	UserID      string          `json:"userId"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (c *Cart) Recalculate() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.LineTotal())
	}
	c.TotalAmount = total
	return total
}

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

func (c *Cart) index(productID, size string) int {
	for i, it := range c.Items {
		if it.ProductID == productID && it.Size == size {
			return i
		}
	}
	return -1
}

func (c *Cart) remove(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

func (c Cart) Clone() Cart {
	if c.Items != nil {
		c.Items = append([]Item(nil), c.Items...)
	}
	return c
}

// Repo stores carts keyed by user id. Update is an atomic read-modify-write on
// one cart; fn sees an empty cart when the user has none yet. The total is
// recomputed after fn returns.
type Repo interface {
	Get(ctx context.Context, userID string) (Cart, error)
	Update(ctx context.Context, userID string, fn func(*Cart) error) (Cart, error)
}
