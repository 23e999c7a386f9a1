package models

import (
	"time"

	"github.com/google/uuid"
)

// Store maps a Shopify shop domain onto the internal store key and the
// location that receives stock when an event carries none.
type Store struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	StoreKey          string    `gorm:"column:store_key;not null;uniqueIndex"`
	ShopDomain        string    `gorm:"column:shop_domain;not null;uniqueIndex"`
	DefaultLocationID string    `gorm:"column:default_location_id;not null"`
	Active            bool      `gorm:"column:active;not null;default:true"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
