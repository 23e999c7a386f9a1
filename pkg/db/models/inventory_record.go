package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

// InventoryRecord is one unit of sellable stock mirrored onto the remote catalog.
type InventoryRecord struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	StoreID               uuid.UUID           `gorm:"column:store_id;type:uuid;not null;uniqueIndex:idx_inventory_records_store_sku_location,priority:1"`
	SKU                   string              `gorm:"column:sku;not null;uniqueIndex:idx_inventory_records_store_sku_location,priority:2"`
	LocationID            string              `gorm:"column:location_id;not null;uniqueIndex:idx_inventory_records_store_sku_location,priority:3"`
	Title                 string              `gorm:"column:title;not null"`
	Price                 decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null"`
	Kind                  enums.ItemKind      `gorm:"column:kind;type:text;not null"`
	RemoteProductID       *string             `gorm:"column:remote_product_id"`
	RemoteVariantID       *string             `gorm:"column:remote_variant_id;index"`
	RemoteInventoryItemID *string             `gorm:"column:remote_inventory_item_id;index"`
	Quantity              int                 `gorm:"column:quantity;not null;default:0"`
	ReservedQuantity      int                 `gorm:"column:reserved_quantity;not null;default:0"`
	SoldAt                *time.Time          `gorm:"column:sold_at"`
	SoldPrice             decimal.NullDecimal `gorm:"column:sold_price;type:numeric(12,2)"`
	SoldOrderID           *string             `gorm:"column:sold_order_id;index"`
	SoldQuantity          int                 `gorm:"column:sold_quantity;not null;default:0"`
	SaleChannel           *enums.SaleChannel  `gorm:"column:sale_channel;type:text"`
	RemoteStatus          enums.RemoteStatus  `gorm:"column:remote_status;type:text;not null;default:'active'"`
	RemoteRemovedAt       *time.Time          `gorm:"column:remote_removed_at"`
	SyncStatus            enums.SyncStatus    `gorm:"column:sync_status;type:text;not null;default:'pending'"`
	LastSyncError         *string             `gorm:"column:last_sync_error"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// Available is the count the storefront may sell once local holds are removed.
func (r InventoryRecord) Available() int {
	available := r.Quantity - r.ReservedQuantity
	if available < 0 {
		return 0
	}
	return available
}

// IsSold reports whether a sale-confirming handler has stamped the record.
func (r InventoryRecord) IsSold() bool {
	return r.SoldAt != nil
}
