package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/pkg/db"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
)

type storeRepository interface {
	Create(ctx context.Context, dto CreateStoreDTO) (*models.Store, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	FindByShopDomain(ctx context.Context, domain string) (*models.Store, error)
	List(ctx context.Context) ([]models.Store, error)
}

// Service exposes store operations.
type Service interface {
	Register(ctx context.Context, input RegisterStoreInput) (*StoreDTO, error)
	GetByID(ctx context.Context, id uuid.UUID) (*StoreDTO, error)
	List(ctx context.Context) ([]StoreDTO, error)
	Resolve(ctx context.Context, shopDomain string) (*StoreContext, error)
}

type service struct {
	repo storeRepository
}

// NewService builds a store service with the provided repository.
func NewService(repo storeRepository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	return &service{repo: repo}, nil
}

// RegisterStoreInput captures the data needed to connect a Shopify shop.
type RegisterStoreInput struct {
	StoreKey          string
	ShopDomain        string
	DefaultLocationID string
}

func (s *service) Register(ctx context.Context, input RegisterStoreInput) (*StoreDTO, error) {
	if strings.TrimSpace(input.StoreKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store_key is required")
	}
	domain := NormalizeDomain(input.ShopDomain)
	if domain == "" || !strings.Contains(domain, ".") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop_domain must be a host name")
	}
	if strings.TrimSpace(input.DefaultLocationID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "default_location_id is required")
	}

	store, err := s.repo.Create(ctx, CreateStoreDTO{
		StoreKey:          input.StoreKey,
		ShopDomain:        domain,
		DefaultLocationID: input.DefaultLocationID,
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "store already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create store")
	}
	return FromModel(store), nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*StoreDTO, error) {
	store, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	return FromModel(store), nil
}

func (s *service) List(ctx context.Context) ([]StoreDTO, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stores")
	}
	out := make([]StoreDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

// Resolve maps a shop domain onto its store. An unknown or inactive shop
// yields (nil, nil); only data-layer failures are errors.
func (s *service) Resolve(ctx context.Context, shopDomain string) (*StoreContext, error) {
	domain := NormalizeDomain(shopDomain)
	if domain == "" {
		return nil, nil
	}
	store, err := s.repo.FindByShopDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve store")
	}
	if !store.Active {
		return nil, nil
	}
	return &StoreContext{
		StoreID:           store.ID,
		StoreKey:          store.StoreKey,
		ShopDomain:        store.ShopDomain,
		DefaultLocationID: store.DefaultLocationID,
	}, nil
}
