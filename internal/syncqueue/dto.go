package syncqueue

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

// EntryDTO exposes a sync queue entry to operators.
type EntryDTO struct {
	ID                uuid.UUID             `json:"id"`
	InventoryRecordID uuid.UUID             `json:"inventory_record_id"`
	Action            enums.SyncAction      `json:"action"`
	Status            enums.SyncQueueStatus `json:"status"`
	AttemptCount      int                   `json:"attempt_count"`
	MaxAttempts       int                   `json:"max_attempts"`
	RateLimitCount    int                   `json:"rate_limit_count"`
	LastError         *string               `json:"last_error,omitempty"`
	NextAttemptAt     time.Time             `json:"next_attempt_at"`
	EnqueuedAt        time.Time             `json:"enqueued_at"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
}

func FromModel(m *models.SyncQueueEntry) *EntryDTO {
	if m == nil {
		return nil
	}
	return &EntryDTO{
		ID:                m.ID,
		InventoryRecordID: m.InventoryRecordID,
		Action:            m.Action,
		Status:            m.Status,
		AttemptCount:      m.AttemptCount,
		MaxAttempts:       m.MaxAttempts,
		RateLimitCount:    m.RateLimitCount,
		LastError:         m.LastError,
		NextAttemptAt:     m.NextAttemptAt,
		EnqueuedAt:        m.EnqueuedAt,
		CompletedAt:       m.CompletedAt,
	}
}
