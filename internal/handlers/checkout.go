package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/clinic-commerce/internal/platform/httpx"
	"github.com/hanko-field/clinic-commerce/internal/platform/observability"
	"github.com/hanko-field/clinic-commerce/internal/services"
	"go.uber.org/zap"
)

const (
	maxWebhookBodySize     = 64 * 1024
	stripeSignatureHeader  = "Stripe-Signature"
	stripeWebhookProvider  = "stripe"
	redirectTokenParameter = "token"
)

// PaymentHandlers receives customer returns from the bank redirect gateway. The bank signs the
// return query; the saga rejects any return whose signature does not cover the result code.
type PaymentHandlers struct {
	saga services.OrderSaga
}

// NewPaymentHandlers constructs payment return handlers.
func NewPaymentHandlers(saga services.OrderSaga) *PaymentHandlers {
	return &PaymentHandlers{saga: saga}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/redirect/return", h.redirectReturn)
}

type redirectReturnResponse struct {
	OrderID string        `json:"orderId"`
	Outcome string        `json:"outcome"`
	Order   *orderPayload `json:"order,omitempty"`
}

func (h *PaymentHandlers) redirectReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.saga == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}
	query := r.URL.Query()
	token := strings.TrimSpace(query.Get(redirectTokenParameter))
	if token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "token is required", http.StatusBadRequest))
		return
	}

	result, err := h.saga.HandleRedirectReturn(ctx, services.RedirectReturnCommand{Params: query})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := redirectReturnResponse{OrderID: result.OrderID, Outcome: result.Outcome}
	if result.Order != nil {
		payload := buildOrderPayload(*result.Order)
		resp.Order = &payload
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// WebhookHandlers receives signed payment provider callbacks.
type WebhookHandlers struct {
	saga services.OrderSaga
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(saga services.OrderSaga) *WebhookHandlers {
	return &WebhookHandlers{saga: saga}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
}

type webhookResponse struct {
	EventID   string `json:"eventId,omitempty"`
	Outcome   string `json:"outcome"`
	SessionID string `json:"sessionId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.saga == nil {
		writeUnavailable(ctx, w, "webhook")
		return
	}

	signature := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "signature header is required", http.StatusBadRequest))
		return
	}
	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.saga.HandleWebhook(ctx, services.WebhookCommand{
		Provider:  stripeWebhookProvider,
		Payload:   payload,
		Signature: signature,
	})
	if err != nil {
		observability.FromContext(ctx).Warn("webhook rejected",
			zap.String("provider", stripeWebhookProvider),
			zap.String("kind", string(services.ErrorKind(err))),
		)
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookResponse(result))
}
