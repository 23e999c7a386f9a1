package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

// RetryJob is a corrective side effect that must eventually reach the remote store.
type RetryJob struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	JobType     enums.RetryJobType   `gorm:"column:job_type;type:text;not null;uniqueIndex:idx_retry_jobs_type_target,priority:1"`
	TargetKey   string               `gorm:"column:target_key;not null;uniqueIndex:idx_retry_jobs_type_target,priority:2"`
	Payload     json.RawMessage      `gorm:"column:payload;type:jsonb;not null"`
	Attempts    int                  `gorm:"column:attempts;not null;default:0"`
	MaxAttempts int                  `gorm:"column:max_attempts;not null"`
	NextRunAt   time.Time            `gorm:"column:next_run_at;not null;index"`
	LastError   *string              `gorm:"column:last_error"`
	Status      enums.RetryJobStatus `gorm:"column:status;type:text;not null;default:'queued'"`
	StartedAt   *time.Time           `gorm:"column:started_at"`
	FinishedAt  *time.Time           `gorm:"column:finished_at"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
