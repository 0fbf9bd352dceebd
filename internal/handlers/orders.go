package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
	"github.com/hanko-field/clinic-commerce/internal/platform/httpx"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

const (
	maxPlaceOrderBodySize  = 32 * 1024
	maxOrderCancelBodySize = 4 * 1024
	idempotencyKeyHeader   = "Idempotency-Key"
)

type placeOrderItemRequest struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items           []placeOrderItemRequest `json:"items"`
	PaymentMethod   string                  `json:"paymentMethod"`
	ShippingAddress addressPayload          `json:"shippingAddress"`
	ReturnURL       string                  `json:"returnUrl"`
	CancelURL       string                  `json:"cancelUrl"`
	Currency        string                  `json:"currency"`
}

type placeOrderResponse struct {
	Order       *orderPayload          `json:"order,omitempty"`
	Session     *pendingSessionPayload `json:"session,omitempty"`
	RedirectURL string                 `json:"redirectUrl,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

// OrderHandlers exposes order placement and order reads for authenticated users.
type OrderHandlers struct {
	authn      *auth.Authenticator
	saga       services.OrderSaga
	placeGuard func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithPlaceOrderGuard wraps order placement, typically with an idempotency guard.
func WithPlaceOrderGuard(guard func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.placeGuard = guard
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, saga services.OrderSaga, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn: authn,
		saga:  saga,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	if h.placeGuard != nil {
		r.With(h.placeGuard).Post("/", h.placeOrder)
	} else {
		r.Post("/", h.placeOrder)
	}
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.saga == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(w, r, maxPlaceOrderBodySize, &req) {
		return
	}

	items := make([]domain.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.CartItem{
			ProductID:       strings.TrimSpace(item.ProductID),
			VariantSelector: strings.TrimSpace(item.Variant),
			Quantity:        item.Quantity,
		})
	}

	result, err := h.saga.PlaceOrder(ctx, services.PlaceOrderCommand{
		Actor:           actor,
		Items:           items,
		PaymentMethod:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		ShippingAddress: domain.Address(req.ShippingAddress),
		ReturnURL:       strings.TrimSpace(req.ReturnURL),
		CancelURL:       strings.TrimSpace(req.CancelURL),
		Currency:        strings.TrimSpace(req.Currency),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := placeOrderResponse{RedirectURL: result.RedirectURL}
	if result.Order != nil {
		payload := buildOrderPayload(*result.Order)
		resp.Order = &payload
	}
	if result.Session != nil {
		payload := buildPendingSessionPayload(*result.Session)
		resp.Session = &payload
	}
	status := http.StatusCreated
	if result.Order == nil {
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.saga == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.saga.GetOrder(ctx, actor, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.saga == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxOrderCancelBodySize, &req) {
		return
	}

	order, err := h.saga.CancelOrder(ctx, actor, orderID, req.Reason)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
