package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
	"github.com/hanko-field/clinic-commerce/internal/platform/observability"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

// InternalHandlers exposes maintenance endpoints for scheduler-triggered jobs.
type InternalHandlers struct {
	promotions services.PromotionLedger
	clock      func() time.Time
}

// InternalOption customises internal handlers.
type InternalOption func(*InternalHandlers)

// WithInternalClock overrides the clock passed to maintenance jobs.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(promotions services.PromotionLedger, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{promotions: promotions, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/promotions:sweep", h.sweepPromotions)
}

type sweepResponse struct {
	Checked     int      `json:"checked"`
	Deactivated []string `json:"deactivated"`
	RanAt       string   `json:"ranAt"`
	TriggeredBy string   `json:"triggeredBy,omitempty"`
}

func (h *InternalHandlers) sweepPromotions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		writeUnavailable(ctx, w, "promotion")
		return
	}
	now := h.clock().UTC()
	result, err := h.promotions.Sweep(ctx, now)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	deactivated := result.Deactivated
	if deactivated == nil {
		deactivated = []string{}
	}
	caller, _ := auth.ServiceCallerFromContext(ctx)
	observability.FromContext(ctx).Info("promotion sweep triggered",
		zap.String("caller", caller.Email),
		zap.Int("checked", result.Checked),
		zap.Int("deactivated", len(deactivated)),
	)
	writeJSONResponse(w, http.StatusOK, sweepResponse{
		Checked:     result.Checked,
		Deactivated: deactivated,
		RanAt:       formatTime(now),
		TriggeredBy: caller.Email,
	})
}
