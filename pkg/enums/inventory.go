package enums

import "fmt"

// ItemKind distinguishes one-of-a-kind slabs from fungible stock.
type ItemKind string

const (
	ItemKindGraded ItemKind = "graded"
	ItemKindRaw    ItemKind = "raw"
)

var validItemKinds = []ItemKind{
	ItemKindGraded,
	ItemKindRaw,
}

// IsValid reports whether the value matches the item_kind enum.
func (k ItemKind) IsValid() bool {
	for _, candidate := range validItemKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseItemKind converts raw input into ItemKind.
func ParseItemKind(value string) (ItemKind, error) {
	for _, candidate := range validItemKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid item kind %q", value)
}

// RemoteStatus tracks whether the record is still listed on the storefront.
type RemoteStatus string

const (
	RemoteStatusActive   RemoteStatus = "active"
	RemoteStatusUnlisted RemoteStatus = "unlisted"
	RemoteStatusDeleted  RemoteStatus = "deleted"
)

var validRemoteStatuses = []RemoteStatus{
	RemoteStatusActive,
	RemoteStatusUnlisted,
	RemoteStatusDeleted,
}

func (s RemoteStatus) IsValid() bool {
	for _, candidate := range validRemoteStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// SyncStatus summarizes the outbound state of a record.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

var validSyncStatuses = []SyncStatus{
	SyncStatusSynced,
	SyncStatusPending,
	SyncStatusFailed,
}

func (s SyncStatus) IsValid() bool {
	for _, candidate := range validSyncStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// SaleChannel records where a sale was confirmed.
type SaleChannel string

const (
	SaleChannelOnlineStore         SaleChannel = "online_store"
	SaleChannelPOS                 SaleChannel = "pos"
	SaleChannelInventoryAdjustment SaleChannel = "inventory_adjustment"
	SaleChannelOther               SaleChannel = "other"
)

// SaleChannelFromSource maps an order source_name onto a SaleChannel.
func SaleChannelFromSource(source string) SaleChannel {
	switch source {
	case "web", "shopify_draft_order":
		return SaleChannelOnlineStore
	case "pos":
		return SaleChannelPOS
	default:
		return SaleChannelOther
	}
}
