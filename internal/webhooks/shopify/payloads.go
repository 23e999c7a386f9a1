package shopifywebhook

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

type lineItem struct {
	ID        int64            `json:"id"`
	SKU       string           `json:"sku"`
	VariantID *int64           `json:"variant_id"`
	ProductID *int64           `json:"product_id"`
	Quantity  int              `json:"quantity" validate:"gte=0"`
	Price     *decimal.Decimal `json:"price"`
}

type refund struct {
	ID int64 `json:"id"`
}

type orderPayload struct {
	ID         int64      `json:"id" validate:"required"`
	Name       string     `json:"name"`
	SourceName string     `json:"source_name"`
	LocationID *int64     `json:"location_id"`
	LineItems  []lineItem `json:"line_items" validate:"dive"`
	Refunds    []refund   `json:"refunds"`
}

type refundLineItem struct {
	LineItemID  int64    `json:"line_item_id"`
	Quantity    int      `json:"quantity" validate:"gte=0"`
	RestockType string   `json:"restock_type"`
	LocationID  *int64   `json:"location_id"`
	LineItem    lineItem `json:"line_item"`
}

type refundPayload struct {
	ID              int64            `json:"id" validate:"required"`
	OrderID         int64            `json:"order_id" validate:"required"`
	RefundLineItems []refundLineItem `json:"refund_line_items" validate:"dive"`
}

type inventoryLevelPayload struct {
	InventoryItemID int64 `json:"inventory_item_id" validate:"required"`
	LocationID      int64 `json:"location_id" validate:"required"`
	Available       *int  `json:"available"`
}

type variant struct {
	ID              int64            `json:"id" validate:"required"`
	SKU             string           `json:"sku"`
	Price           *decimal.Decimal `json:"price"`
	InventoryItemID *int64           `json:"inventory_item_id"`
}

type productPayload struct {
	ID       int64     `json:"id" validate:"required"`
	Title    string    `json:"title"`
	Variants []variant `json:"variants" validate:"dive"`
}

type productDeletePayload struct {
	ID int64 `json:"id" validate:"required"`
}

type productListingPayload struct {
	ProductListing struct {
		ProductID int64 `json:"product_id" validate:"required"`
	} `json:"product_listing"`
}

// decode unmarshals and validates a payload. Failures are permanent for the
// delivery; redelivery carries the same bytes.
func decode(body []byte, dest any) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := validate.Struct(dest); err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	return nil
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func formatOptionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return formatID(*id)
}
