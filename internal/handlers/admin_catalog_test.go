package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

func adminRouter(catalog services.CatalogService, orders services.OrderSaga, uid string, roles ...string) http.Handler {
	handlers := NewAdminCatalogHandlers(nil, catalog, orders)
	return withIdentity(uid, roles, func(r chi.Router) {
		r.Route("/admin", handlers.Routes)
	})
}

func TestAdminCatalogHandlers_UpsertProduct(t *testing.T) {
	var captured domain.Product
	catalog := &stubCatalogService{
		productFn: func(_ context.Context, actor domain.Actor, product domain.Product) (domain.Product, error) {
			if actor.Role != domain.RolePlatformAdmin {
				t.Fatalf("unexpected actor %+v", actor)
			}
			captured = product
			product.UpdatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			return product, nil
		},
	}

	body := `{"name":"Toothbrush","price":1200,"enabled":true,"variants":[{"code":"red","name":"Red","quantity":4},{"code":"blue","name":"Blue","quantity":2}]}`
	rr := httptest.NewRecorder()
	adminRouter(catalog, nil, "ops", auth.RolePlatformAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/products/prd_1", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ID != "prd_1" || len(captured.Variants) != 2 || captured.Variants[1].Quantity != 2 {
		t.Fatalf("unexpected product %+v", captured)
	}
	var resp adminProductPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UpdatedAt == "" || resp.Price != 1200 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAdminCatalogHandlers_UpsertPromotion(t *testing.T) {
	var captured domain.Promotion
	catalog := &stubCatalogService{
		promotionFn: func(_ context.Context, _ domain.Actor, promotion domain.Promotion) (domain.Promotion, error) {
			captured = promotion
			return promotion, nil
		},
	}

	body := `{"name":"Spring","startDate":"2025-03-01T00:00:00Z","endDate":"2025-03-31T00:00:00Z","active":true,"entries":[{"productId":"p1","discountPercentage":20,"maxQty":10,"maxDiscountAmount":500}]}`
	rr := httptest.NewRecorder()
	adminRouter(catalog, nil, "ops", auth.RolePlatformAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/promotions/promo_1", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ID != "promo_1" || !captured.StartDate.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected promotion %+v", captured)
	}
	if len(captured.Entries) != 1 || captured.Entries[0].MaxDiscountAmount == nil || *captured.Entries[0].MaxDiscountAmount != 500 {
		t.Fatalf("unexpected entries %+v", captured.Entries)
	}

	rr = httptest.NewRecorder()
	adminRouter(catalog, nil, "ops", auth.RolePlatformAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/promotions/promo_1", strings.NewReader(`{"startDate":"March"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rr.Code)
	}
}

func TestAdminCatalogHandlers_UpsertClinic(t *testing.T) {
	var captured domain.Clinic
	catalog := &stubCatalogService{
		clinicFn: func(_ context.Context, _ domain.Actor, clinic domain.Clinic) (domain.Clinic, error) {
			captured = clinic
			return clinic, nil
		},
	}

	body := `{"adminId":"clinic-admin-1","name":"Smile","timeZone":"Asia/Tokyo","workingHours":{"Monday":{"open":true,"start":"08:00","end":"17:00","break":{"start":"12:00","end":"13:00"}},"sunday":{"open":false}}}`
	rr := httptest.NewRecorder()
	adminRouter(catalog, nil, "clinic-admin-1", auth.RoleClinicAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/clinics/clinic-1", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	monday := captured.WorkingHours[time.Monday]
	if !monday.Open || monday.Start != domain.MustClockTime("08:00") || monday.Break == nil || monday.Break.End != domain.MustClockTime("13:00") {
		t.Fatalf("unexpected monday hours %+v", monday)
	}
	if captured.WorkingHours[time.Sunday].Open {
		t.Fatalf("expected sunday closed")
	}
	var resp adminClinicPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.WorkingHours["monday"].Start != "08:00" {
		t.Fatalf("unexpected response hours %+v", resp.WorkingHours)
	}

	rr = httptest.NewRecorder()
	bad := `{"name":"Smile","workingHours":{"monday":{"open":true,"start":"8am","end":"17:00"}}}`
	adminRouter(catalog, nil, "ops", auth.RolePlatformAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/clinics/clinic-1", strings.NewReader(bad)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad clock time, got %d", rr.Code)
	}
}

func TestAdminCatalogHandlers_UpsertDoctor(t *testing.T) {
	catalog := &stubCatalogService{}
	body := `{"clinicId":"clinic-1","name":"Dr. Sato","slotDuration":30,"fee":5000,"active":true}`
	rr := httptest.NewRecorder()
	adminRouter(catalog, nil, "ops", auth.RolePlatformAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/doctors/doctor-1", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp adminDoctorPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "doctor-1" || resp.SlotDuration != 30 || resp.Fee != 5000 {
		t.Fatalf("unexpected doctor %+v", resp)
	}
}

func TestAdminCatalogHandlers_TransitionOrder(t *testing.T) {
	var gotTo domain.OrderStatus
	orders := &stubOrderSaga{
		transitionFn: func(_ context.Context, _ domain.Actor, orderID string, to domain.OrderStatus, _ string) (domain.Order, error) {
			gotTo = to
			return domain.Order{ID: orderID, Status: to}, nil
		},
	}
	rr := httptest.NewRecorder()
	adminRouter(&stubCatalogService{}, orders, "ops", auth.RolePlatformAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:transition", strings.NewReader(`{"status":"shipping"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotTo != domain.OrderStatusShipping {
		t.Fatalf("unexpected target %s", gotTo)
	}
}
