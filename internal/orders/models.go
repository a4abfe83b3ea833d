package orders

import (
	"context"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/inventory"
	"github.com/shopspring/decimal"
)

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

func (a Address) Validate() error {
	fields := [...]struct{ name, v string }{
		{"street", a.Street}, {"city", a.City}, {"state", a.State}, {"zipCode", a.ZipCode}, {"country", a.Country},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.Invalid("shipping address missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Item is a point-in-time copy of a cart line; later catalog edits don't reach it.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
}

type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"orderNumber"`
	UserID           string          `json:"userId"`
	Items            []Item          `json:"items"`
	ShippingAddress  Address         `json:"shippingAddress"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	OrderStatus      Status          `json:"orderStatus"`
	PaymentIntentID  string          `json:"paymentIntentId,omitempty"`
	PaymentSessionID string          `json:"paymentSessionId,omitempty"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	ShippingCost     decimal.Decimal `json:"shippingCost"`
	Tax              decimal.Decimal `json:"tax"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Notes            string          `json:"notes,omitempty"`
	DeliveredAt      *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (o Order) Clone() Order {
	if o.Items != nil {
		o.Items = append([]Item(nil), o.Items...)
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		o.DeliveredAt = &t
	}
	return o
}

// StockLines is what the ledger needs to take or give back this order's units.
func (o Order) StockLines() []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return lines
}

type ListFilter struct {
	Status Status
	Page   int
	Limit  int
}

func (f ListFilter) normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	return f
}

func (f ListFilter) offset() int { return (f.Page - 1) * f.Limit }

type Page struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Pages  int     `json:"pages"`
}

func newPage(orders []Order, total int, f ListFilter) Page {
	return Page{Orders: orders, Total: total, Page: f.Page, Pages: (total + f.Limit - 1) / f.Limit}
}

// Repo persists orders. Update applies fn under a per-order lock; fn reports
// whether it changed anything, and unchanged orders are not written.
type Repo interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	FindByPaymentRef(ctx context.Context, ref string) (Order, error)
	Update(ctx context.Context, id string, fn func(*Order) (bool, error)) (Order, bool, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context, f ListFilter) (Page, error)
	ListStalePending(ctx context.Context, method PaymentMethod, before time.Time, limit int) ([]Order, error)
}
