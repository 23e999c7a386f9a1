package models

import (
	"encoding/json"
	"time"
)

// InboundEvent is the idempotency receipt for a delivered webhook.
type InboundEvent struct {
	EventID    string          `gorm:"column:event_id;primaryKey"`
	Topic      string          `gorm:"column:topic;not null"`
	ShopDomain string          `gorm:"column:shop_domain;not null"`
	Payload    json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	ReceivedAt time.Time       `gorm:"column:received_at;not null;index"`
}
