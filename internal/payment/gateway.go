package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/storefront-checkout/internal/payment")

type Redirects struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// SessionRequest describes one hosted checkout. Items defaults to the order's snapshot.
type SessionRequest struct {
	Order        orders.Order
	Items        []orders.Item
	ShippingCost decimal.Decimal
	Redirects    Redirects
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Gateway opens hosted checkout sessions at the payment provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error)
}

// LineItem amounts are in the smallest currency unit.
type LineItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int    `json:"quantity"`
}

type sessionBody struct {
	Mode       string            `json:"mode"`
	Currency   string            `json:"currency"`
	LineItems  []LineItem        `json:"line_items"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Metadata   map[string]string `json:"metadata"`
}

// HTTPGateway talks to a hosted-checkout API over JSON.
type HTTPGateway struct {
	BaseURL   string
	SecretKey string
	Namespace string
	Currency  string
	Client    *http.Client
	Metrics   *metrics.Metrics
}

func NewHTTPGateway(baseURL, secretKey, namespace string, timeout time.Duration, m *metrics.Metrics) *HTTPGateway {
	return &HTTPGateway{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		Namespace: namespace,
		Currency:  "usd",
		Client:    &http.Client{Timeout: timeout},
		Metrics:   m,
	}
}

// Cents converts a decimal amount to the smallest currency unit, rounding half away from zero.
func Cents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// BuildLineItems mirrors the order lines and adds a Shipping line when shipping is charged.
func BuildLineItems(lines []orders.Item, shipping decimal.Decimal) []LineItem {
	items := make([]LineItem, 0, len(lines)+1)
	for _, it := range lines {
		name := it.Name
		if it.Size != "" {
			name += " (" + it.Size + ")"
		}
		items = append(items, LineItem{Name: name, UnitAmount: Cents(it.Price), Quantity: it.Quantity})
	}
	if shipping.IsPositive() {
		items = append(items, LineItem{Name: "Shipping", UnitAmount: Cents(shipping), Quantity: 1})
	}
	return items
}

func (g *HTTPGateway) CreateCheckoutSession(ctx context.Context, req SessionRequest) (s Session, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "payment.CreateCheckoutSession", trace.WithAttributes(
		attribute.String("order_id", req.Order.ID),
	))
	defer func() {
		g.Metrics.Gateway(start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	lines := req.Items
	if lines == nil {
		lines = req.Order.Items
	}
	body, err := json.Marshal(sessionBody{
		Mode:       "payment",
		Currency:   g.Currency,
		LineItems:  BuildLineItems(lines, req.ShippingCost),
		SuccessURL: req.Redirects.SuccessURL,
		CancelURL:  req.Redirects.CancelURL,
		Metadata:   map[string]string{"orderId": req.Order.ID, "appId": g.Namespace},
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: encode session: %v", apperr.ErrGateway, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", apperr.ErrGateway, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.SecretKey)

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", apperr.ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("%w: read response: %v", apperr.ErrGateway, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Session{}, fmt.Errorf("%w: status %d: %s", apperr.ErrGateway, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("%w: decode response: %v", apperr.ErrGateway, err)
	}
	if s.ID == "" || s.URL == "" {
		return Session{}, fmt.Errorf("%w: session without id or url", apperr.ErrGateway)
	}
	return s, nil
}
