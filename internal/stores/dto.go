package stores

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
)

// StoreDTO exposes store data in API responses.
type StoreDTO struct {
	ID                uuid.UUID `json:"id"`
	StoreKey          string    `json:"store_key"`
	ShopDomain        string    `json:"shop_domain"`
	DefaultLocationID string    `json:"default_location_id"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateStoreDTO holds creation-time data for a new store.
type CreateStoreDTO struct {
	StoreKey          string
	ShopDomain        string
	DefaultLocationID string
}

// ToModel converts the DTO into a persistence model.
func (dto CreateStoreDTO) ToModel() *models.Store {
	return &models.Store{
		ID:                uuid.New(),
		StoreKey:          strings.TrimSpace(dto.StoreKey),
		ShopDomain:        NormalizeDomain(dto.ShopDomain),
		DefaultLocationID: strings.TrimSpace(dto.DefaultLocationID),
		Active:            true,
	}
}

// FromModel converts a store model into its API representation.
func FromModel(m *models.Store) *StoreDTO {
	if m == nil {
		return nil
	}
	return &StoreDTO{
		ID:                m.ID,
		StoreKey:          m.StoreKey,
		ShopDomain:        m.ShopDomain,
		DefaultLocationID: m.DefaultLocationID,
		Active:            m.Active,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// StoreContext is the resolved tenant a webhook applies to.
type StoreContext struct {
	StoreID           uuid.UUID
	StoreKey          string
	ShopDomain        string
	DefaultLocationID string
}

// LocationOr returns location when known, else the store's default location.
func (c StoreContext) LocationOr(location string) string {
	if trimmed := strings.TrimSpace(location); trimmed != "" {
		return trimmed
	}
	return c.DefaultLocationID
}

// NormalizeDomain lower-cases and trims a shop domain header value.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
