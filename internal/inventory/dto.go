package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

// MatchKey carries the identifiers a remote event offers for locating stock.
type MatchKey struct {
	InventoryItemID string
	VariantID       string
	SKU             string
	LocationID      string
}

func (k MatchKey) normalized() MatchKey {
	return MatchKey{
		InventoryItemID: strings.TrimSpace(k.InventoryItemID),
		VariantID:       strings.TrimSpace(k.VariantID),
		SKU:             strings.TrimSpace(k.SKU),
		LocationID:      strings.TrimSpace(k.LocationID),
	}
}

// SaleStamp is the sale state written when a record sells out.
type SaleStamp struct {
	OrderID  string
	LineID   string
	Price    decimal.NullDecimal
	Channel  enums.SaleChannel
	Quantity int
	At       time.Time
}

// SaleResult reports what a sale did to a record.
type SaleResult struct {
	Decremented bool
	SoldOut     bool
	Units       int
	Remaining   int
}

// RemoteRef holds the remote identifiers assigned on first sync.
type RemoteRef struct {
	ProductID       string
	VariantID       string
	InventoryItemID string
}

// RecordKey is the SKU-scoped key used for retry job de-duplication.
func RecordKey(rec *models.InventoryRecord) string {
	return fmt.Sprintf("%s:%s@%s", rec.StoreID, rec.SKU, rec.LocationID)
}

// CreateRecordInput captures an operator intake.
type CreateRecordInput struct {
	StoreID          uuid.UUID       `json:"store_id" validate:"required"`
	SKU              string          `json:"sku" validate:"required,max=128"`
	LocationID       string          `json:"location_id" validate:"omitempty,max=64"`
	Title            string          `json:"title" validate:"required,max=255"`
	Price            decimal.Decimal `json:"price"`
	Kind             enums.ItemKind  `json:"kind" validate:"required,oneof=graded raw"`
	Quantity         int             `json:"quantity" validate:"gte=0"`
	ReservedQuantity int             `json:"reserved_quantity" validate:"gte=0"`
}

// UpdateRecordInput captures the operator-editable fields. Nil leaves a field alone.
type UpdateRecordInput struct {
	Title            *string          `json:"title" validate:"omitempty,min=1,max=255"`
	Price            *decimal.Decimal `json:"price"`
	Quantity         *int             `json:"quantity" validate:"omitempty,gte=0"`
	ReservedQuantity *int             `json:"reserved_quantity" validate:"omitempty,gte=0"`
}

// RecordDTO exposes an inventory record in API responses.
type RecordDTO struct {
	ID                    uuid.UUID           `json:"id"`
	StoreID               uuid.UUID           `json:"store_id"`
	SKU                   string              `json:"sku"`
	LocationID            string              `json:"location_id"`
	Title                 string              `json:"title"`
	Price                 decimal.Decimal     `json:"price"`
	Kind                  enums.ItemKind      `json:"kind"`
	Quantity              int                 `json:"quantity"`
	ReservedQuantity      int                 `json:"reserved_quantity"`
	RemoteProductID       *string             `json:"remote_product_id,omitempty"`
	RemoteVariantID       *string             `json:"remote_variant_id,omitempty"`
	RemoteInventoryItemID *string             `json:"remote_inventory_item_id,omitempty"`
	SoldAt                *time.Time          `json:"sold_at,omitempty"`
	SoldPrice             decimal.NullDecimal `json:"sold_price"`
	SoldOrderID           *string             `json:"sold_order_id,omitempty"`
	SaleChannel           *enums.SaleChannel  `json:"sale_channel,omitempty"`
	RemoteStatus          enums.RemoteStatus  `json:"remote_status"`
	SyncStatus            enums.SyncStatus    `json:"sync_status"`
	LastSyncError         *string             `json:"last_sync_error,omitempty"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// FromModel converts a record into its API representation.
func FromModel(m *models.InventoryRecord) *RecordDTO {
	if m == nil {
		return nil
	}
	return &RecordDTO{
		ID:                    m.ID,
		StoreID:               m.StoreID,
		SKU:                   m.SKU,
		LocationID:            m.LocationID,
		Title:                 m.Title,
		Price:                 m.Price,
		Kind:                  m.Kind,
		Quantity:              m.Quantity,
		ReservedQuantity:      m.ReservedQuantity,
		RemoteProductID:       m.RemoteProductID,
		RemoteVariantID:       m.RemoteVariantID,
		RemoteInventoryItemID: m.RemoteInventoryItemID,
		SoldAt:                m.SoldAt,
		SoldPrice:             m.SoldPrice,
		SoldOrderID:           m.SoldOrderID,
		SaleChannel:           m.SaleChannel,
		RemoteStatus:          m.RemoteStatus,
		SyncStatus:            m.SyncStatus,
		LastSyncError:         m.LastSyncError,
		UpdatedAt:             m.UpdatedAt,
	}
}
