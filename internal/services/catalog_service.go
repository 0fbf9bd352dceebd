package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

const eventCatalogUpsert = "catalog.upsert"

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	repo   repositories.CatalogRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		repo:   deps.Catalog,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// UpsertProduct stores a product. In variant mode the aggregate counter is derived from the variants.
func (s *catalogService) UpsertProduct(ctx context.Context, actor domain.Actor, product domain.Product) (domain.Product, error) {
	if actor.Role != domain.RolePlatformAdmin {
		return domain.Product{}, fmt.Errorf("%w: products are managed by platform admins", ErrForbidden)
	}
	product = product.Clone()
	product.ID = strings.TrimSpace(product.ID)
	product.Name = strings.TrimSpace(product.Name)
	if product.ID == "" {
		product.ID = "prd_" + strings.ToLower(s.newID())
	}

	var invalid ValidationError
	if product.Name == "" {
		invalid.Add("name", "is required")
	}
	if product.Price < 0 {
		invalid.Add("price", "must not be negative")
	}
	if product.TotalQuantity < 0 {
		invalid.Add("totalQuantity", "must not be negative")
	}
	if len(product.Variants) > 0 {
		seen := make(map[string]struct{}, len(product.Variants))
		sum := 0
		for i := range product.Variants {
			v := &product.Variants[i]
			field := fmt.Sprintf("variants[%d]", i)
			v.Code = strings.ToUpper(strings.TrimSpace(v.Code))
			v.Name = strings.TrimSpace(v.Name)
			if v.Code == "" {
				invalid.Add(field, "code is required")
			} else if _, dup := seen[v.Code]; dup {
				invalid.Add(field, fmt.Sprintf("duplicate code %s", v.Code))
			}
			seen[v.Code] = struct{}{}
			if v.Quantity < 0 {
				invalid.Add(field, "quantity must not be negative")
			}
			sum += v.Quantity
		}
		product.TotalQuantity = sum
	}
	if err := invalid.Err(); err != nil {
		return domain.Product{}, err
	}

	product.UpdatedAt = s.clock()
	if err := s.repo.UpsertProduct(ctx, product); err != nil {
		return domain.Product{}, translateError("catalog.upsert_product", err)
	}
	s.logger(ctx, eventCatalogUpsert, map[string]any{"kind": "product", "id": product.ID, "actorId": actor.ID})
	return product, nil
}

func (s *catalogService) UpsertPromotion(ctx context.Context, actor domain.Actor, promotion domain.Promotion) (domain.Promotion, error) {
	if actor.Role != domain.RolePlatformAdmin {
		return domain.Promotion{}, fmt.Errorf("%w: promotions are managed by platform admins", ErrForbidden)
	}
	promotion = promotion.Clone()
	promotion.ID = strings.TrimSpace(promotion.ID)
	promotion.Name = strings.TrimSpace(promotion.Name)
	if promotion.ID == "" {
		promotion.ID = "prm_" + strings.ToLower(s.newID())
	}

	var invalid ValidationError
	if promotion.Name == "" {
		invalid.Add("name", "is required")
	}
	if promotion.StartDate.IsZero() {
		invalid.Add("startDate", "is required")
	}
	if promotion.EndDate.IsZero() {
		invalid.Add("endDate", "is required")
	} else if promotion.EndDate.Before(promotion.StartDate) {
		invalid.Add("endDate", "must not precede startDate")
	}
	if len(promotion.Entries) == 0 {
		invalid.Add("entries", "at least one product entry is required")
	}
	seen := make(map[string]struct{}, len(promotion.Entries))
	for i := range promotion.Entries {
		entry := &promotion.Entries[i]
		field := fmt.Sprintf("entries[%d]", i)
		entry.ProductID = strings.TrimSpace(entry.ProductID)
		if entry.ProductID == "" {
			invalid.Add(field, "product id is required")
		} else if _, dup := seen[entry.ProductID]; dup {
			invalid.Add(field, fmt.Sprintf("duplicate product %s", entry.ProductID))
		}
		seen[entry.ProductID] = struct{}{}
		if entry.DiscountPercentage <= 0 || entry.DiscountPercentage > 100 {
			invalid.Add(field, "discount percentage must be between 1 and 100")
		}
		if entry.MaxQty < 0 || entry.UsedQty < 0 {
			invalid.Add(field, "quantities must not be negative")
		}
		if entry.UsedQty > entry.MaxQty {
			invalid.Add(field, "usedQty must not exceed maxQty")
		}
		if entry.MaxDiscountAmount != nil && *entry.MaxDiscountAmount < 0 {
			invalid.Add(field, "maxDiscountAmount must not be negative")
		}
	}
	if err := invalid.Err(); err != nil {
		return domain.Promotion{}, err
	}

	now := s.clock()
	promotion.StartDate = promotion.StartDate.UTC()
	promotion.EndDate = promotion.EndDate.UTC()
	if promotion.CreatedAt.IsZero() {
		promotion.CreatedAt = now
	}
	promotion.UpdatedAt = now
	if promotion.Exhausted() {
		promotion.Active = false
	}
	if err := s.repo.UpsertPromotion(ctx, promotion); err != nil {
		return domain.Promotion{}, translateError("catalog.upsert_promotion", err)
	}
	s.logger(ctx, eventCatalogUpsert, map[string]any{"kind": "promotion", "id": promotion.ID, "actorId": actor.ID, "active": promotion.Active})
	return promotion, nil
}

// UpsertClinic stores a clinic. Clinic admins may only edit the clinic they administer.
func (s *catalogService) UpsertClinic(ctx context.Context, actor domain.Actor, clinic domain.Clinic) (domain.Clinic, error) {
	clinic = clinic.Clone()
	clinic.ID = strings.TrimSpace(clinic.ID)
	clinic.Name = strings.TrimSpace(clinic.Name)
	switch actor.Role {
	case domain.RolePlatformAdmin:
	case domain.RoleClinicAdmin:
		if clinic.ID == "" {
			return domain.Clinic{}, fmt.Errorf("%w: clinic admins cannot create clinics", ErrForbidden)
		}
		existing, err := s.repo.GetClinic(ctx, clinic.ID)
		if err != nil {
			return domain.Clinic{}, translateError("catalog.upsert_clinic", lookupError("clinic", clinic.ID, err))
		}
		if existing.AdminID != actor.ID {
			return domain.Clinic{}, fmt.Errorf("%w: clinic %s is administered by someone else", ErrForbidden, clinic.ID)
		}
		clinic.AdminID = existing.AdminID
	default:
		return domain.Clinic{}, fmt.Errorf("%w: clinics are managed by admins", ErrForbidden)
	}
	if clinic.ID == "" {
		clinic.ID = "cln_" + strings.ToLower(s.newID())
	}

	var invalid ValidationError
	if clinic.Name == "" {
		invalid.Add("name", "is required")
	}
	if zone := strings.TrimSpace(clinic.TimeZone); zone != "" {
		if _, err := time.LoadLocation(zone); err != nil {
			invalid.Add("timeZone", fmt.Sprintf("unknown time zone %q", zone))
		}
	}
	for day, hours := range clinic.WorkingHours {
		if !hours.Open {
			continue
		}
		field := "workingHours." + strings.ToLower(day.String())
		if hours.End <= hours.Start || hours.End > domain.MinutesPerDay {
			invalid.Add(field, "endTime must be after startTime")
		}
		if hours.Break != nil {
			if hours.Break.End <= hours.Break.Start || !hours.Hours().Contains(*hours.Break) {
				invalid.Add(field, "break must lie within working hours")
			}
		}
	}
	clinic.Holidays = normalizeHolidays("holidays", clinic.Holidays, &invalid)
	if err := invalid.Err(); err != nil {
		return domain.Clinic{}, err
	}

	clinic.UpdatedAt = s.clock()
	if err := s.repo.UpsertClinic(ctx, clinic); err != nil {
		return domain.Clinic{}, translateError("catalog.upsert_clinic", err)
	}
	s.logger(ctx, eventCatalogUpsert, map[string]any{"kind": "clinic", "id": clinic.ID, "actorId": actor.ID})
	return clinic, nil
}

// UpsertDoctor stores a doctor. Clinic admins may only manage doctors of their clinic.
func (s *catalogService) UpsertDoctor(ctx context.Context, actor domain.Actor, doctor domain.Doctor) (domain.Doctor, error) {
	doctor = doctor.Clone()
	doctor.ID = strings.TrimSpace(doctor.ID)
	doctor.ClinicID = strings.TrimSpace(doctor.ClinicID)
	doctor.Name = strings.TrimSpace(doctor.Name)
	if actor.Role != domain.RolePlatformAdmin && actor.Role != domain.RoleClinicAdmin {
		return domain.Doctor{}, fmt.Errorf("%w: doctors are managed by admins", ErrForbidden)
	}

	var invalid ValidationError
	if doctor.ClinicID == "" {
		invalid.Add("clinicId", "is required")
	}
	if doctor.Name == "" {
		invalid.Add("name", "is required")
	}
	if doctor.SlotDuration <= 0 || doctor.SlotDuration > domain.MinutesPerDay {
		invalid.Add("slotDuration", "must be a positive number of minutes")
	}
	if doctor.Fee < 0 {
		invalid.Add("fee", "must not be negative")
	}
	doctor.Holidays = normalizeHolidays("holidays", doctor.Holidays, &invalid)
	if err := invalid.Err(); err != nil {
		return domain.Doctor{}, err
	}

	clinic, err := s.repo.GetClinic(ctx, doctor.ClinicID)
	if err != nil {
		return domain.Doctor{}, translateError("catalog.upsert_doctor", lookupError("clinic", doctor.ClinicID, err))
	}
	if actor.Role == domain.RoleClinicAdmin {
		if clinic.AdminID != actor.ID {
			return domain.Doctor{}, fmt.Errorf("%w: clinic %s is administered by someone else", ErrForbidden, clinic.ID)
		}
		if doctor.ID != "" {
			existing, err := s.repo.GetDoctor(ctx, doctor.ID)
			if err == nil && existing.ClinicID != clinic.ID {
				return domain.Doctor{}, fmt.Errorf("%w: doctor %s belongs to another clinic", ErrForbidden, doctor.ID)
			}
			if err != nil && !isNotFound(err) {
				return domain.Doctor{}, translateError("catalog.upsert_doctor", err)
			}
		}
	}
	if doctor.ID == "" {
		doctor.ID = "doc_" + strings.ToLower(s.newID())
	}

	doctor.UpdatedAt = s.clock()
	if err := s.repo.UpsertDoctor(ctx, doctor); err != nil {
		return domain.Doctor{}, translateError("catalog.upsert_doctor", err)
	}
	s.logger(ctx, eventCatalogUpsert, map[string]any{"kind": "doctor", "id": doctor.ID, "clinicId": doctor.ClinicID, "actorId": actor.ID})
	return doctor, nil
}

// normalizeHolidays validates YYYY-MM-DD dates and returns them sorted without duplicates.
func normalizeHolidays(field string, dates []string, invalid *ValidationError) []string {
	out := make([]string, 0, len(dates))
	for i, raw := range dates {
		date := strings.TrimSpace(raw)
		if _, err := domain.ParseDate(date, time.UTC); err != nil {
			invalid.Add(fmt.Sprintf("%s[%d]", field, i), "must use YYYY-MM-DD")
			continue
		}
		out = append(out, date)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
