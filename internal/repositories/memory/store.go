package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

// ErrStoreClosed is returned once Close has been called.
var ErrStoreClosed = errors.New("memory store: closed")

// Store is an in-process Registry. Transactions run one at a time against buffered overlays and
// commit only when the transaction function succeeds.
type Store struct {
	mu sync.Mutex

	products   map[string]domain.Product
	promotions map[string]domain.Promotion
	orders     map[string]domain.Order
	sessions   map[string]domain.PendingOrderSession
	bookings   map[string]domain.Booking
	clinics    map[string]domain.Clinic
	doctors    map[string]domain.Doctor
	doctorDays map[string]int64

	closed atomic.Bool
}

var (
	_ repositories.Registry          = (*Store)(nil)
	_ repositories.CatalogRepository = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		products:   make(map[string]domain.Product),
		promotions: make(map[string]domain.Promotion),
		orders:     make(map[string]domain.Order),
		sessions:   make(map[string]domain.PendingOrderSession),
		bookings:   make(map[string]domain.Booking),
		clinics:    make(map[string]domain.Clinic),
		doctors:    make(map[string]domain.Doctor),
		doctorDays: make(map[string]int64),
	}
}

// Close marks the store unusable.
func (s *Store) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

// Catalog implements repositories.Registry.
func (s *Store) Catalog() repositories.CatalogRepository { return s }

// Health implements repositories.Registry.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "memory", Check: s.Ping},
	})
	return repo
}

// Ping reports whether the store accepts requests.
func (s *Store) Ping(context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

// RunInTx implements repositories.UnitOfWork.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if fn == nil {
		return errors.New("memory store: transaction function is nil")
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) begin() *memTx {
	return &memTx{
		products:   newOverlay(s.products, domain.Product.Clone),
		promotions: newOverlay(s.promotions, domain.Promotion.Clone),
		orders:     newOverlay(s.orders, domain.Order.Clone),
		sessions:   newOverlay(s.sessions, domain.PendingOrderSession.Clone),
		bookings:   newOverlay(s.bookings, domain.Booking.Clone),
		clinics:    newOverlay(s.clinics, domain.Clinic.Clone),
		doctors:    newOverlay(s.doctors, domain.Doctor.Clone),
		doctorDays: newOverlay(s.doctorDays, func(v int64) int64 { return v }),
	}
}

// UpsertProduct implements repositories.CatalogRepository.
func (s *Store) UpsertProduct(_ context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product.Clone()
	return nil
}

// UpsertPromotion implements repositories.CatalogRepository.
func (s *Store) UpsertPromotion(_ context.Context, promotion domain.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotions[promotion.ID] = promotion.Clone()
	return nil
}

// UpsertClinic implements repositories.CatalogRepository.
func (s *Store) UpsertClinic(_ context.Context, clinic domain.Clinic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinics[clinic.ID] = clinic.Clone()
	return nil
}

// UpsertDoctor implements repositories.CatalogRepository.
func (s *Store) UpsertDoctor(_ context.Context, doctor domain.Doctor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[doctor.ID] = doctor.Clone()
	return nil
}

// GetProduct implements repositories.CatalogRepository.
func (s *Store) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NotFound("catalog.getProduct", "product", productID)
	}
	return product.Clone(), nil
}

// GetPromotion implements repositories.CatalogRepository.
func (s *Store) GetPromotion(_ context.Context, promotionID string) (domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	promotion, ok := s.promotions[promotionID]
	if !ok {
		return domain.Promotion{}, repositories.NotFound("catalog.getPromotion", "promotion", promotionID)
	}
	return promotion.Clone(), nil
}

// GetClinic implements repositories.CatalogRepository.
func (s *Store) GetClinic(_ context.Context, clinicID string) (domain.Clinic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clinic, ok := s.clinics[clinicID]
	if !ok {
		return domain.Clinic{}, repositories.NotFound("catalog.getClinic", "clinic", clinicID)
	}
	return clinic.Clone(), nil
}

// GetDoctor implements repositories.CatalogRepository.
func (s *Store) GetDoctor(_ context.Context, doctorID string) (domain.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doctor, ok := s.doctors[doctorID]
	if !ok {
		return domain.Doctor{}, repositories.NotFound("catalog.getDoctor", "doctor", doctorID)
	}
	return doctor.Clone(), nil
}

// ListActivePromotions implements repositories.CatalogRepository.
func (s *Store) ListActivePromotions(context.Context) ([]domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := newOverlay(s.promotions, domain.Promotion.Clone)
	return view.scan(func(p domain.Promotion) bool { return p.Active }), nil
}

// DoctorDayRevision exposes the guard counter for a doctor/date, used by tests.
func (s *Store) DoctorDayRevision(doctorID, date string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doctorDays[doctorDayKey(doctorID, date)]
}
