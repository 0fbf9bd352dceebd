package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	pfirestore "github.com/hanko-field/clinic-commerce/internal/platform/firestore"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

// CatalogRepository persists products, promotions, clinics, and doctors outside ledger transactions.
type CatalogRepository struct {
	products   *pfirestore.Collection[productDocument]
	promotions *pfirestore.Collection[promotionDocument]
	clinics    *pfirestore.Collection[clinicDocument]
	doctors    *pfirestore.Collection[doctorDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a CatalogRepository bound to the provider.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products:   pfirestore.NewCollection[productDocument](provider, productsCollection),
		promotions: pfirestore.NewCollection[promotionDocument](provider, promotionsCollection),
		clinics:    pfirestore.NewCollection[clinicDocument](provider, clinicsCollection),
		doctors:    pfirestore.NewCollection[doctorDocument](provider, doctorsCollection),
	}, nil
}

func (r *CatalogRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	return r.products.Set(ctx, product.ID, newProductDocument(product))
}

func (r *CatalogRepository) UpsertPromotion(ctx context.Context, promotion domain.Promotion) error {
	return r.promotions.Set(ctx, promotion.ID, newPromotionDocument(promotion))
}

func (r *CatalogRepository) UpsertClinic(ctx context.Context, clinic domain.Clinic) error {
	return r.clinics.Set(ctx, clinic.ID, newClinicDocument(clinic))
}

func (r *CatalogRepository) UpsertDoctor(ctx context.Context, doctor domain.Doctor) error {
	return r.doctors.Set(ctx, doctor.ID, newDoctorDocument(doctor))
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}

func (r *CatalogRepository) GetPromotion(ctx context.Context, promotionID string) (domain.Promotion, error) {
	doc, err := r.promotions.Get(ctx, promotionID)
	if err != nil {
		return domain.Promotion{}, err
	}
	return doc.toDomain(promotionID), nil
}

func (r *CatalogRepository) GetClinic(ctx context.Context, clinicID string) (domain.Clinic, error) {
	doc, err := r.clinics.Get(ctx, clinicID)
	if err != nil {
		return domain.Clinic{}, err
	}
	return doc.toDomain(clinicID), nil
}

func (r *CatalogRepository) GetDoctor(ctx context.Context, doctorID string) (domain.Doctor, error) {
	doc, err := r.doctors.Get(ctx, doctorID)
	if err != nil {
		return domain.Doctor{}, err
	}
	return doc.toDomain(doctorID), nil
}

func (r *CatalogRepository) ListActivePromotions(ctx context.Context) ([]domain.Promotion, error) {
	docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	promotions := make([]domain.Promotion, 0, len(docs))
	for _, doc := range docs {
		promotions = append(promotions, doc.Data.toDomain(doc.ID))
	}
	return promotions, nil
}
