package httpx

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/ariefcatur/storefront-checkout/internal/cart"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/go-chi/chi/v5"
)

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type API struct {
	Carts    *cart.Service
	Factory  *orders.Factory
	Orders   *orders.Service
	Checkout *payment.Checkout
	Webhooks WebhookProcessor
}

func (a *API) Register(r chi.Router) {
	r.Post("/webhooks/payments", a.paymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(requireActor)

		r.Get("/cart", a.getCart)
		r.Post("/cart/items", a.addCartItem)
		r.Patch("/cart/items/{productId}", a.updateCartItem)
		r.Delete("/cart/items/{productId}", a.removeCartItem)
		r.Delete("/cart", a.clearCart)

		r.Post("/orders", a.placeOrder)
		r.Get("/orders", a.listMyOrders)
		r.Get("/orders/{id}", a.getOrder)

		r.Get("/admin/orders", a.listAllOrders)
		r.Put("/admin/orders/{id}/status", a.updateOrderStatus)
		r.Post("/admin/orders/{id}/refund", a.refundOrder)

		r.Post("/payments/session", a.createPaymentSession)
	})
}

type addItemReq struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Qty       int    `json:"qty"`
}

type updateItemReq struct {
	Size string `json:"size"`
	Qty  *int   `json:"qty"`
}

type statusReq struct {
	OrderStatus orders.Status `json:"orderStatus"`
}

type sessionReq struct {
	OrderID    string `json:"orderId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type sessionResp struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

func (a *API) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := a.Carts.Get(ctx, actor(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing productId"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := a.Carts.AddItem(ctx, actor(r).UserID, req.ProductID, req.Size, req.Qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Qty == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing qty"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := a.Carts.SetQuantity(ctx, actor(r).UserID, chi.URLParam(r, "productId"), req.Size, *req.Qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) removeCartItem(w http.ResponseWriter, r *http.Request) {
	size, ok := r.URL.Query()["size"]
	if !ok || len(size) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing size"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := a.Carts.RemoveItem(ctx, actor(r).UserID, chi.URLParam(r, "productId"), size[0])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.Carts.Clear(ctx, actor(r).UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (a *API) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.PlaceOrderInput
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := a.Factory.CreateOrder(ctx, actor(r).UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := a.Orders.ListMine(ctx, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := a.Orders.Get(ctx, actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) listAllOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{Status: orders.Status(q.Get("status"))}
	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	page, err := a.Orders.ListAll(ctx, actor(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := a.Orders.UpdateStatus(ctx, actor(r), chi.URLParam(r, "id"), req.OrderStatus)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := a.Orders.MarkRefunded(ctx, actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) createPaymentSession(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing orderId"})
		return
	}

	s, err := a.Checkout.StartSession(r.Context(), actor(r), req.OrderID, payment.Redirects{
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResp{SessionID: s.ID, RedirectURL: s.URL})
}

func (a *API) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := a.Webhooks.HandleWebhook(ctx, payload, r.Header.Get(HeaderSignature)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperr.Invalid("%q is not a valid number", s)
	}
	return n, nil
}
