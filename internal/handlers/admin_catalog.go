package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
	"github.com/hanko-field/clinic-commerce/internal/platform/httpx"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

const maxCatalogRequestBody = 64 * 1024

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// AdminCatalogHandlers exposes reference data administration and operator order transitions.
type AdminCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
	orders  services.OrderSaga
}

// NewAdminCatalogHandlers constructs admin handlers restricted to administrative roles.
func NewAdminCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService, orders services.OrderSaga) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{
		authn:   authn,
		catalog: catalog,
		orders:  orders,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RolePlatformAdmin, auth.RoleClinicAdmin))
	}
	r.Put("/products/{productID}", h.upsertProduct)
	r.Put("/promotions/{promotionID}", h.upsertPromotion)
	r.Put("/clinics/{clinicID}", h.upsertClinic)
	r.Put("/doctors/{doctorID}", h.upsertDoctor)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
}

type adminVariantPayload struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type adminProductPayload struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Price         int64                 `json:"price"`
	Enabled       bool                  `json:"enabled"`
	Variants      []adminVariantPayload `json:"variants,omitempty"`
	TotalQuantity int                   `json:"totalQuantity"`
	UpdatedAt     string                `json:"updatedAt,omitempty"`
}

type adminPromotionEntryPayload struct {
	ProductID          string `json:"productId"`
	DiscountPercentage int    `json:"discountPercentage"`
	MaxQty             int    `json:"maxQty"`
	UsedQty            int    `json:"usedQty"`
	MaxDiscountAmount  *int64 `json:"maxDiscountAmount,omitempty"`
}

type adminPromotionPayload struct {
	ID        string                       `json:"id"`
	Name      string                       `json:"name"`
	StartDate string                       `json:"startDate"`
	EndDate   string                       `json:"endDate"`
	Active    bool                         `json:"active"`
	Entries   []adminPromotionEntryPayload `json:"entries"`
	CreatedAt string                       `json:"createdAt,omitempty"`
	UpdatedAt string                       `json:"updatedAt,omitempty"`
}

type adminTimeRangePayload struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type adminWorkingDayPayload struct {
	Open  bool                   `json:"open"`
	Start string                 `json:"start,omitempty"`
	End   string                 `json:"end,omitempty"`
	Break *adminTimeRangePayload `json:"break,omitempty"`
}

type adminClinicPayload struct {
	ID           string                            `json:"id"`
	AdminID      string                            `json:"adminId"`
	Name         string                            `json:"name"`
	TimeZone     string                            `json:"timeZone,omitempty"`
	WorkingHours map[string]adminWorkingDayPayload `json:"workingHours"`
	Holidays     []string                          `json:"holidays,omitempty"`
	UpdatedAt    string                            `json:"updatedAt,omitempty"`
}

type adminDoctorPayload struct {
	ID           string   `json:"id"`
	ClinicID     string   `json:"clinicId"`
	Name         string   `json:"name"`
	SlotDuration int      `json:"slotDuration"`
	Fee          int64    `json:"fee"`
	Holidays     []string `json:"holidays,omitempty"`
	Active       bool     `json:"active"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

func (h *AdminCatalogHandlers) upsertProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req adminProductPayload
	if !decodeJSONBody(w, r, maxCatalogRequestBody, &req) {
		return
	}

	product := domain.Product{
		ID:            strings.TrimSpace(chi.URLParam(r, "productID")),
		Name:          req.Name,
		Price:         req.Price,
		Enabled:       req.Enabled,
		TotalQuantity: req.TotalQuantity,
	}
	for _, variant := range req.Variants {
		product.Variants = append(product.Variants, domain.Variant(variant))
	}

	saved, err := h.catalog.UpsertProduct(ctx, actor, product)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newAdminProductPayload(saved))
}

func (h *AdminCatalogHandlers) upsertPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req adminPromotionPayload
	if !decodeJSONBody(w, r, maxCatalogRequestBody, &req) {
		return
	}

	start, err := parseTimestamp(req.StartDate)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "startDate must be RFC3339", http.StatusBadRequest))
		return
	}
	end, err := parseTimestamp(req.EndDate)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "endDate must be RFC3339", http.StatusBadRequest))
		return
	}
	promotion := domain.Promotion{
		ID:        strings.TrimSpace(chi.URLParam(r, "promotionID")),
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
		Active:    req.Active,
	}
	for _, entry := range req.Entries {
		promotion.Entries = append(promotion.Entries, domain.PromotionEntry(entry))
	}

	saved, err := h.catalog.UpsertPromotion(ctx, actor, promotion)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newAdminPromotionPayload(saved))
}

func (h *AdminCatalogHandlers) upsertClinic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req adminClinicPayload
	if !decodeJSONBody(w, r, maxCatalogRequestBody, &req) {
		return
	}

	hours, err := parseWorkingHours(req.WorkingHours)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(string(services.KindInvalidTimeFormat), err.Error(), http.StatusBadRequest))
		return
	}
	clinic := domain.Clinic{
		ID:           strings.TrimSpace(chi.URLParam(r, "clinicID")),
		AdminID:      strings.TrimSpace(req.AdminID),
		Name:         req.Name,
		TimeZone:     strings.TrimSpace(req.TimeZone),
		WorkingHours: hours,
		Holidays:     req.Holidays,
	}

	saved, err := h.catalog.UpsertClinic(ctx, actor, clinic)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newAdminClinicPayload(saved))
}

func (h *AdminCatalogHandlers) upsertDoctor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req adminDoctorPayload
	if !decodeJSONBody(w, r, maxCatalogRequestBody, &req) {
		return
	}

	doctor := domain.Doctor{
		ID:           strings.TrimSpace(chi.URLParam(r, "doctorID")),
		ClinicID:     strings.TrimSpace(req.ClinicID),
		Name:         req.Name,
		SlotDuration: req.SlotDuration,
		Fee:          req.Fee,
		Holidays:     req.Holidays,
		Active:       req.Active,
	}

	saved, err := h.catalog.UpsertDoctor(ctx, actor, doctor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newAdminDoctorPayload(saved))
}

func (h *AdminCatalogHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeJSONBody(w, r, maxCatalogRequestBody, &req) {
		return
	}

	to := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	order, err := h.orders.TransitionOrder(ctx, actor, strings.TrimSpace(chi.URLParam(r, "orderID")), to, req.Reason)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func parseWorkingHours(payload map[string]adminWorkingDayPayload) (map[time.Weekday]domain.WorkingDay, error) {
	hours := make(map[time.Weekday]domain.WorkingDay, len(payload))
	for name, day := range payload {
		weekday, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		if !day.Open {
			hours[weekday] = domain.WorkingDay{Open: false}
			continue
		}
		start, err := domain.ParseClockTime(day.Start)
		if err != nil {
			return nil, fmt.Errorf("%s start: %w", name, err)
		}
		end, err := domain.ParseClockTime(day.End)
		if err != nil {
			return nil, fmt.Errorf("%s end: %w", name, err)
		}
		working := domain.WorkingDay{Open: true, Start: start, End: end}
		if day.Break != nil {
			breakStart, err := domain.ParseClockTime(day.Break.Start)
			if err != nil {
				return nil, fmt.Errorf("%s break start: %w", name, err)
			}
			breakEnd, err := domain.ParseClockTime(day.Break.End)
			if err != nil {
				return nil, fmt.Errorf("%s break end: %w", name, err)
			}
			working.Break = &domain.TimeRange{Start: breakStart, End: breakEnd}
		}
		hours[weekday] = working
	}
	return hours, nil
}

func newAdminProductPayload(product domain.Product) adminProductPayload {
	out := adminProductPayload{
		ID:            product.ID,
		Name:          product.Name,
		Price:         product.Price,
		Enabled:       product.Enabled,
		TotalQuantity: product.TotalQuantity,
		UpdatedAt:     formatTime(product.UpdatedAt),
	}
	for _, variant := range product.Variants {
		out.Variants = append(out.Variants, adminVariantPayload(variant))
	}
	return out
}

func newAdminPromotionPayload(promotion domain.Promotion) adminPromotionPayload {
	out := adminPromotionPayload{
		ID:        promotion.ID,
		Name:      promotion.Name,
		StartDate: formatTime(promotion.StartDate),
		EndDate:   formatTime(promotion.EndDate),
		Active:    promotion.Active,
		Entries:   make([]adminPromotionEntryPayload, 0, len(promotion.Entries)),
		CreatedAt: formatTime(promotion.CreatedAt),
		UpdatedAt: formatTime(promotion.UpdatedAt),
	}
	for _, entry := range promotion.Entries {
		out.Entries = append(out.Entries, adminPromotionEntryPayload(entry))
	}
	return out
}

func newAdminClinicPayload(clinic domain.Clinic) adminClinicPayload {
	out := adminClinicPayload{
		ID:           clinic.ID,
		AdminID:      clinic.AdminID,
		Name:         clinic.Name,
		TimeZone:     clinic.TimeZone,
		WorkingHours: make(map[string]adminWorkingDayPayload, len(clinic.WorkingHours)),
		Holidays:     clinic.Holidays,
		UpdatedAt:    formatTime(clinic.UpdatedAt),
	}
	for weekday, day := range clinic.WorkingHours {
		payload := adminWorkingDayPayload{Open: day.Open}
		if day.Open {
			payload.Start = day.Start.String()
			payload.End = day.End.String()
		}
		if day.Break != nil {
			payload.Break = &adminTimeRangePayload{Start: day.Break.Start.String(), End: day.Break.End.String()}
		}
		out.WorkingHours[strings.ToLower(weekday.String())] = payload
	}
	return out
}

func newAdminDoctorPayload(doctor domain.Doctor) adminDoctorPayload {
	return adminDoctorPayload{
		ID:           doctor.ID,
		ClinicID:     doctor.ClinicID,
		Name:         doctor.Name,
		SlotDuration: doctor.SlotDuration,
		Fee:          doctor.Fee,
		Holidays:     doctor.Holidays,
		Active:       doctor.Active,
		UpdatedAt:    formatTime(doctor.UpdatedAt),
	}
}
