package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

// SyncQueueEntry is a pending outbound push of a local inventory mutation.
type SyncQueueEntry struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	InventoryRecordID uuid.UUID             `gorm:"column:inventory_record_id;type:uuid;not null;index"`
	Action            enums.SyncAction      `gorm:"column:action;type:text;not null"`
	Status            enums.SyncQueueStatus `gorm:"column:status;type:text;not null;default:'queued';index"`
	AttemptCount      int                   `gorm:"column:attempt_count;not null;default:0"`
	MaxAttempts       int                   `gorm:"column:max_attempts;not null"`
	RateLimitCount    int                   `gorm:"column:rate_limit_count;not null;default:0"`
	LastError         *string               `gorm:"column:last_error"`
	NextAttemptAt     time.Time             `gorm:"column:next_attempt_at;not null"`
	EnqueuedAt        time.Time             `gorm:"column:enqueued_at;not null"`
	StartedAt         *time.Time            `gorm:"column:started_at"`
	CompletedAt       *time.Time            `gorm:"column:completed_at"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (SyncQueueEntry) TableName() string { return "sync_queue" }
