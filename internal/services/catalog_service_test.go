package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/repositories/memory"
)

var platformAdmin = domain.Actor{ID: "ops-1", Role: domain.RolePlatformAdmin}

func newTestCatalogService(t *testing.T, store *memory.Store) (CatalogService, *[]string) {
	t.Helper()
	var events []string
	svc, err := NewCatalogService(CatalogServiceDeps{
		Catalog:     store.Catalog(),
		Clock:       func() time.Time { return fixtureNow },
		IDGenerator: func() string { return "01HX" },
		Logger: func(_ context.Context, event string, fields map[string]any) {
			events = append(events, event+":"+fields["kind"].(string))
		},
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc, &events
}

func TestNewCatalogService(t *testing.T) {
	if _, err := NewCatalogService(CatalogServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestCatalogService_UpsertProductDerivesVariantTotal(t *testing.T) {
	store := memory.NewStore()
	svc, events := newTestCatalogService(t, store)

	product, err := svc.UpsertProduct(context.Background(), platformAdmin, domain.Product{
		Name:          "  Whitening kit ",
		Price:         1200,
		Enabled:       true,
		TotalQuantity: 99,
		Variants: []domain.Variant{
			{Code: " mint ", Name: "Mint", Quantity: 3},
			{Code: "LEMON", Name: "Lemon", Quantity: 4},
		},
	})
	if err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	if product.ID != "prd_01hx" || product.Name != "Whitening kit" {
		t.Fatalf("unexpected identity %+v", product)
	}
	if product.TotalQuantity != 7 {
		t.Fatalf("expected variant sum 7, got %d", product.TotalQuantity)
	}
	if product.Variants[0].Code != "MINT" {
		t.Fatalf("expected normalised variant code, got %q", product.Variants[0].Code)
	}
	if !product.UpdatedAt.Equal(fixtureNow) {
		t.Fatalf("expected UpdatedAt from clock, got %v", product.UpdatedAt)
	}
	stored, err := store.GetProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if stored.TotalQuantity != 7 {
		t.Fatalf("expected stored total 7, got %d", stored.TotalQuantity)
	}
	if len(*events) != 1 || (*events)[0] != "catalog.upsert:product" {
		t.Fatalf("unexpected events %v", *events)
	}
}

func TestCatalogService_UpsertProductValidation(t *testing.T) {
	svc, _ := newTestCatalogService(t, memory.NewStore())

	_, err := svc.UpsertProduct(context.Background(), platformAdmin, domain.Product{
		Price: -1,
		Variants: []domain.Variant{
			{Code: "A", Quantity: 1},
			{Code: "a", Quantity: -2},
		},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := map[string]bool{}
	for _, field := range FieldErrors(err) {
		fields[field.Field] = true
	}
	for _, want := range []string{"name", "price", "variants[1]"} {
		if !fields[want] {
			t.Fatalf("expected %s to be reported, got %v", want, FieldErrors(err))
		}
	}

	if _, err := svc.UpsertProduct(context.Background(), clinicAdmin, domain.Product{Name: "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for clinic admin, got %v", err)
	}
}

func TestCatalogService_UpsertPromotion(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestCatalogService(t, store)
	ctx := context.Background()
	start := fixtureNow.Add(-time.Hour)
	end := fixtureNow.Add(24 * time.Hour)

	promotion, err := svc.UpsertPromotion(ctx, platformAdmin, domain.Promotion{
		Name:      "Spring",
		StartDate: start,
		EndDate:   end,
		Active:    true,
		Entries:   []domain.PromotionEntry{{ProductID: "p1", DiscountPercentage: 20, MaxQty: 5}},
	})
	if err != nil {
		t.Fatalf("UpsertPromotion: %v", err)
	}
	if promotion.ID != "prm_01hx" || !promotion.Active || !promotion.CreatedAt.Equal(fixtureNow) {
		t.Fatalf("unexpected promotion %+v", promotion)
	}

	exhausted, err := svc.UpsertPromotion(ctx, platformAdmin, domain.Promotion{
		ID:        "prm_done",
		Name:      "Sold out",
		StartDate: start,
		EndDate:   end,
		Active:    true,
		Entries:   []domain.PromotionEntry{{ProductID: "p1", DiscountPercentage: 20, MaxQty: 5, UsedQty: 5}},
	})
	if err != nil {
		t.Fatalf("UpsertPromotion exhausted: %v", err)
	}
	if exhausted.Active {
		t.Fatalf("expected exhausted promotion to be stored inactive")
	}

	tests := []struct {
		name      string
		promotion domain.Promotion
		field     string
	}{
		{name: "end before start", promotion: domain.Promotion{Name: "x", StartDate: end, EndDate: start, Entries: []domain.PromotionEntry{{ProductID: "p1", DiscountPercentage: 10, MaxQty: 1}}}, field: "endDate"},
		{name: "no entries", promotion: domain.Promotion{Name: "x", StartDate: start, EndDate: end}, field: "entries"},
		{name: "discount out of range", promotion: domain.Promotion{Name: "x", StartDate: start, EndDate: end, Entries: []domain.PromotionEntry{{ProductID: "p1", DiscountPercentage: 101, MaxQty: 1}}}, field: "entries[0]"},
		{name: "used over max", promotion: domain.Promotion{Name: "x", StartDate: start, EndDate: end, Entries: []domain.PromotionEntry{{ProductID: "p1", DiscountPercentage: 10, MaxQty: 1, UsedQty: 2}}}, field: "entries[0]"},
		{name: "duplicate product", promotion: domain.Promotion{Name: "x", StartDate: start, EndDate: end, Entries: []domain.PromotionEntry{{ProductID: "p1", DiscountPercentage: 10, MaxQty: 1}, {ProductID: "p1", DiscountPercentage: 5, MaxQty: 1}}}, field: "entries[1]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpsertPromotion(ctx, platformAdmin, tc.promotion)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			found := false
			for _, field := range FieldErrors(err) {
				if field.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %s to be reported, got %v", tc.field, FieldErrors(err))
			}
		})
	}
}

func TestCatalogService_UpsertClinicOwnership(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestCatalogService(t, store)
	ctx := context.Background()

	clinic := weekdayClinic()
	clinic.Holidays = []string{"2025-05-05", " 2025-05-03", "2025-05-05"}
	saved, err := svc.UpsertClinic(ctx, platformAdmin, clinic)
	if err != nil {
		t.Fatalf("UpsertClinic: %v", err)
	}
	if strings.Join(saved.Holidays, ",") != "2025-05-03,2025-05-05" {
		t.Fatalf("expected sorted unique holidays, got %v", saved.Holidays)
	}

	renamed := weekdayClinic()
	renamed.Name = "Smile Central"
	renamed.AdminID = "someone-else"
	updated, err := svc.UpsertClinic(ctx, clinicAdmin, renamed)
	if err != nil {
		t.Fatalf("clinic admin update: %v", err)
	}
	if updated.AdminID != clinicAdmin.ID {
		t.Fatalf("expected clinic admin to keep ownership, got %q", updated.AdminID)
	}

	intruder := domain.Actor{ID: "clinic-admin-9", Role: domain.RoleClinicAdmin}
	if _, err := svc.UpsertClinic(ctx, intruder, weekdayClinic()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for foreign admin, got %v", err)
	}
	if _, err := svc.UpsertClinic(ctx, clinicAdmin, domain.Clinic{Name: "New"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected clinic admins to be unable to create clinics, got %v", err)
	}
	if _, err := svc.UpsertClinic(ctx, patient, weekdayClinic()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for patients, got %v", err)
	}

	broken := weekdayClinic()
	lateBreak := domain.TimeRange{Start: domain.MustClockTime("16:30"), End: domain.MustClockTime("18:00")}
	monday := broken.WorkingHours[time.Monday]
	monday.Break = &lateBreak
	broken.WorkingHours[time.Monday] = monday
	broken.TimeZone = "Mars/Olympus"
	_, err = svc.UpsertClinic(ctx, platformAdmin, broken)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := map[string]bool{}
	for _, field := range FieldErrors(err) {
		fields[field.Field] = true
	}
	if !fields["workingHours.monday"] || !fields["timeZone"] {
		t.Fatalf("unexpected field errors %v", FieldErrors(err))
	}
}

func TestCatalogService_UpsertDoctor(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestCatalogService(t, store)
	ctx := context.Background()
	if err := store.UpsertClinic(ctx, weekdayClinic()); err != nil {
		t.Fatalf("seed clinic: %v", err)
	}
	other := weekdayClinic()
	other.ID = "clinic-2"
	other.AdminID = "clinic-admin-2"
	if err := store.UpsertClinic(ctx, other); err != nil {
		t.Fatalf("seed clinic: %v", err)
	}
	if err := store.UpsertDoctor(ctx, domain.Doctor{ID: "doctor-2", ClinicID: "clinic-2", Name: "Dr. Ito", SlotDuration: 20, Active: true}); err != nil {
		t.Fatalf("seed doctor: %v", err)
	}

	doctor, err := svc.UpsertDoctor(ctx, clinicAdmin, domain.Doctor{ClinicID: "clinic-1", Name: " Dr. Sato ", SlotDuration: 30, Fee: 5000, Active: true})
	if err != nil {
		t.Fatalf("UpsertDoctor: %v", err)
	}
	if doctor.ID != "doc_01hx" || doctor.Name != "Dr. Sato" {
		t.Fatalf("unexpected doctor %+v", doctor)
	}

	if _, err := svc.UpsertDoctor(ctx, clinicAdmin, domain.Doctor{ClinicID: "clinic-2", Name: "x", SlotDuration: 30}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for foreign clinic, got %v", err)
	}
	if _, err := svc.UpsertDoctor(ctx, clinicAdmin, domain.Doctor{ID: "doctor-2", ClinicID: "clinic-1", Name: "x", SlotDuration: 30}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden when moving another clinic's doctor, got %v", err)
	}
	if _, err := svc.UpsertDoctor(ctx, platformAdmin, domain.Doctor{ClinicID: "clinic-x", Name: "x", SlotDuration: 30}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unknown clinic to be not found, got %v", err)
	}
	if _, err := svc.UpsertDoctor(ctx, platformAdmin, domain.Doctor{ClinicID: "clinic-1", Name: "x", SlotDuration: 0, Holidays: []string{"05/05"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.UpsertDoctor(ctx, doctorActor, domain.Doctor{ClinicID: "clinic-1", Name: "x", SlotDuration: 30}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected doctors to be unable to manage doctors, got %v", err)
	}
}
