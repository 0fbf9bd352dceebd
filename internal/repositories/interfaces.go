package repositories

import (
	"context"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
)

// Registry exposes the persistence entry points and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups ledger reads and writes into one atomic transaction. When fn returns an error
// nothing written through tx becomes visible. Backends may invoke fn more than once on contention,
// so fn must not carry side effects outside tx.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// LedgerReader is the read side shared by transactions and pricing previews.
type LedgerReader interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetPromotion(ctx context.Context, promotionID string) (domain.Promotion, error)
	// PromotionsForProduct returns active promotions that reference the product, regardless of window.
	PromotionsForProduct(ctx context.Context, productID string) ([]domain.Promotion, error)
}

// ScheduleReader exposes the clinic calendar inputs used by slot generation and validation.
type ScheduleReader interface {
	GetClinic(ctx context.Context, clinicID string) (domain.Clinic, error)
	GetDoctor(ctx context.Context, doctorID string) (domain.Doctor, error)
	// BookingsForDoctorDate returns every booking for the doctor on date, in any status.
	BookingsForDoctorDate(ctx context.Context, doctorID, date string) ([]domain.Booking, error)
}

// Tx is the transactional view over every contended ledger. Reads observe writes made earlier in
// the same transaction. Not-found lookups return a RepositoryError with IsNotFound.
type Tx interface {
	LedgerReader
	ScheduleReader

	PutProduct(ctx context.Context, product domain.Product) error
	PutPromotion(ctx context.Context, promotion domain.Promotion) error

	// CreateOrder fails with IsConflict when the id already exists.
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	PutOrder(ctx context.Context, order domain.Order) error
	DeleteOrder(ctx context.Context, orderID string) error

	CreatePendingSession(ctx context.Context, session domain.PendingOrderSession) error
	GetPendingSession(ctx context.Context, sessionID string) (domain.PendingOrderSession, error)
	PutPendingSession(ctx context.Context, session domain.PendingOrderSession) error
	DeletePendingSession(ctx context.Context, sessionID string) error

	// LockDoctorDay adds the doctor's calendar day to the transaction's conflict set so concurrent
	// booking creations for the same doctor and date serialise.
	LockDoctorDay(ctx context.Context, doctorID, date string) error
	CreateBooking(ctx context.Context, booking domain.Booking) error
	GetBooking(ctx context.Context, bookingID string) (domain.Booking, error)
	PutBooking(ctx context.Context, booking domain.Booking) error
	DeleteBooking(ctx context.Context, bookingID string) error
}

// CatalogRepository manages reference data outside the contended transaction paths.
type CatalogRepository interface {
	UpsertProduct(ctx context.Context, product domain.Product) error
	UpsertPromotion(ctx context.Context, promotion domain.Promotion) error
	UpsertClinic(ctx context.Context, clinic domain.Clinic) error
	UpsertDoctor(ctx context.Context, doctor domain.Doctor) error
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetPromotion(ctx context.Context, promotionID string) (domain.Promotion, error)
	GetClinic(ctx context.Context, clinicID string) (domain.Clinic, error)
	GetDoctor(ctx context.Context, doctorID string) (domain.Doctor, error)
	// ListActivePromotions returns promotions flagged active, used by the deactivation sweep.
	ListActivePromotions(ctx context.Context) ([]domain.Promotion, error)
}

// HealthRepository reports the status of backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
