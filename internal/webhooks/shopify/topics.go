package shopifywebhook

import "strings"

// EventKind is the closed set of deliveries the reconciler understands.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSaleConfirmed
	EventOrderCancelled
	EventRefundCreated
	EventInventoryLevelChanged
	EventProductUpdated
	EventProductDeleted
	EventListingUnpublished
)

const (
	TopicOrdersPaid            = "orders/paid"
	TopicOrdersCancelled       = "orders/cancelled"
	TopicRefundsCreate         = "refunds/create"
	TopicInventoryLevelsUpdate = "inventory_levels/update"
	TopicProductsUpdate        = "products/update"
	TopicProductsDelete        = "products/delete"
	TopicProductListingsRemove = "product_listings/remove"
)

// Classify maps a topic header onto an EventKind.
func Classify(topic string) EventKind {
	switch strings.ToLower(strings.TrimSpace(topic)) {
	case TopicOrdersPaid:
		return EventSaleConfirmed
	case TopicOrdersCancelled:
		return EventOrderCancelled
	case TopicRefundsCreate:
		return EventRefundCreated
	case TopicInventoryLevelsUpdate:
		return EventInventoryLevelChanged
	case TopicProductsUpdate:
		return EventProductUpdated
	case TopicProductsDelete:
		return EventProductDeleted
	case TopicProductListingsRemove:
		return EventListingUnpublished
	default:
		return EventUnknown
	}
}

func (k EventKind) String() string {
	switch k {
	case EventSaleConfirmed:
		return "sale_confirmed"
	case EventOrderCancelled:
		return "order_cancelled"
	case EventRefundCreated:
		return "refund_created"
	case EventInventoryLevelChanged:
		return "inventory_level_changed"
	case EventProductUpdated:
		return "product_updated"
	case EventProductDeleted:
		return "product_deleted"
	case EventListingUnpublished:
		return "listing_unpublished"
	default:
		return "unknown"
	}
}
