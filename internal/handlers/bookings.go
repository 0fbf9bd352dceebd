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

const maxBookingBodySize = 8 * 1024

// DoctorHandlers exposes the public slot listing.
type DoctorHandlers struct {
	slots services.SlotEngine
}

// NewDoctorHandlers constructs doctor schedule handlers.
func NewDoctorHandlers(slots services.SlotEngine) *DoctorHandlers {
	return &DoctorHandlers{slots: slots}
}

// Routes registers the /doctors endpoints.
func (h *DoctorHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{doctorID}/slots", h.listSlots)
}

func (h *DoctorHandlers) listSlots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.slots == nil {
		writeUnavailable(ctx, w, "slot")
		return
	}
	doctorID := strings.TrimSpace(chi.URLParam(r, "doctorID"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date query parameter is required", http.StatusBadRequest))
		return
	}

	schedule, err := h.slots.AvailableSlots(ctx, doctorID, date)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDaySchedulePayload(schedule))
}

type createBookingRequest struct {
	DoctorID  string         `json:"doctorId"`
	ClinicID  string         `json:"clinicId"`
	Date      string         `json:"date"`
	StartTime string         `json:"startTime"`
	EndTime   string         `json:"endTime"`
	Contact   contactPayload `json:"contact"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type bookingResponse struct {
	Booking bookingPayload `json:"booking"`
}

// BookingHandlers exposes the booking lifecycle to authenticated actors.
type BookingHandlers struct {
	authn       *auth.Authenticator
	bookings    services.BookingService
	createGuard func(http.Handler) http.Handler
}

// BookingHandlersOption customises BookingHandlers.
type BookingHandlersOption func(*BookingHandlers)

// WithCreateBookingGuard wraps booking creation, typically with an idempotency guard.
func WithCreateBookingGuard(guard func(http.Handler) http.Handler) BookingHandlersOption {
	return func(h *BookingHandlers) {
		h.createGuard = guard
	}
}

// NewBookingHandlers constructs booking handlers guarded by Firebase authentication.
func NewBookingHandlers(authn *auth.Authenticator, bookings services.BookingService, opts ...BookingHandlersOption) *BookingHandlers {
	h := &BookingHandlers{
		authn:    authn,
		bookings: bookings,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /bookings endpoints.
func (h *BookingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	if h.createGuard != nil {
		r.With(h.createGuard).Post("/", h.createBooking)
	} else {
		r.Post("/", h.createBooking)
	}
	r.Get("/{bookingID}", h.getBooking)
	r.Post("/{bookingID}:transition", h.transitionBooking)
	r.Delete("/{bookingID}", h.deleteBooking)
}

func (h *BookingHandlers) createBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req createBookingRequest
	if !decodeJSONBody(w, r, maxBookingBodySize, &req) {
		return
	}

	booking, err := h.bookings.CreateBooking(ctx, actor, services.CreateBookingCommand{
		DoctorID:  strings.TrimSpace(req.DoctorID),
		ClinicID:  strings.TrimSpace(req.ClinicID),
		Date:      strings.TrimSpace(req.Date),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Contact:   domain.ContactSnapshot(req.Contact),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, bookingResponse{Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) getBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	booking, err := h.bookings.GetBooking(ctx, actor, strings.TrimSpace(chi.URLParam(r, "bookingID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) transitionBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeJSONBody(w, r, maxBookingBodySize, &req) {
		return
	}

	to := domain.BookingStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	booking, err := h.bookings.TransitionBooking(ctx, actor, strings.TrimSpace(chi.URLParam(r, "bookingID")), to, req.Reason)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) deleteBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	if err := h.bookings.DeleteBooking(ctx, actor, strings.TrimSpace(chi.URLParam(r, "bookingID"))); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
