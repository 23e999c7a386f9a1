package models

// Domain lists every table the sync engine owns, in dependency order.
func Domain() []any {
	return []any{
		&Store{},
		&InventoryRecord{},
		&SaleLine{},
		&InboundEvent{},
		&SyncQueueEntry{},
		&RetryJob{},
	}
}
