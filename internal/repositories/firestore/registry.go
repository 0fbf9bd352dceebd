package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/hanko-field/clinic-commerce/internal/platform/firestore"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

// Registry wires the Firestore backed repositories behind repositories.Registry.
type Registry struct {
	*UnitOfWork

	provider *pfirestore.Provider
	catalog  *CatalogRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the registry. Extra dependency checks (secret manager, broker, cache) are
// folded into the health report next to Firestore itself.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	uow, err := NewUnitOfWork(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{
		{Name: "firestore", Timeout: 2 * time.Second, Check: provider.Ping},
	}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Registry{UnitOfWork: uow, provider: provider, catalog: catalog, health: health}, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Catalog implements repositories.Registry.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Health implements repositories.Registry.
func (r *Registry) Health() repositories.HealthRepository { return r.health }
