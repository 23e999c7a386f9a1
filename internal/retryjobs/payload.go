package retryjobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

// Payload carries what an executor needs to reach the remote. Which fields
// are required depends on the job type.
type Payload struct {
	StoreID         uuid.UUID  `json:"store_id"`
	RecordID        *uuid.UUID `json:"record_id,omitempty"`
	ProductID       string     `json:"product_id,omitempty"`
	InventoryItemID string     `json:"inventory_item_id,omitempty"`
	LocationID      string     `json:"location_id,omitempty"`
}

func (p Payload) validate(jobType enums.RetryJobType) error {
	if p.StoreID == uuid.Nil {
		return fmt.Errorf("store_id is required")
	}
	switch jobType {
	case enums.RetryJobEndRemoteListing:
		if p.ProductID == "" && p.RecordID == nil {
			return fmt.Errorf("product_id or record_id is required")
		}
	case enums.RetryJobZeroRemoteQuantity:
		if p.InventoryItemID == "" || p.LocationID == "" {
			return fmt.Errorf("inventory_item_id and location_id are required")
		}
	case enums.RetryJobEnforceLocation:
		if p.RecordID == nil || p.LocationID == "" {
			return fmt.Errorf("record_id and location_id are required")
		}
	case enums.RetryJobSetRemoteLevel:
		if p.RecordID == nil {
			return fmt.Errorf("record_id is required")
		}
	default:
		return fmt.Errorf("unknown retry job type %q", jobType)
	}
	return nil
}

func decodePayload(job *models.RetryJob) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.validate(job.JobType); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// JobDTO exposes a retry job to operators.
type JobDTO struct {
	ID          uuid.UUID            `json:"id"`
	JobType     enums.RetryJobType   `json:"job_type"`
	TargetKey   string               `json:"target_key"`
	Payload     json.RawMessage      `json:"payload"`
	Attempts    int                  `json:"attempts"`
	MaxAttempts int                  `json:"max_attempts"`
	NextRunAt   time.Time            `json:"next_run_at"`
	LastError   *string              `json:"last_error,omitempty"`
	Status      enums.RetryJobStatus `json:"status"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func FromModel(m *models.RetryJob) *JobDTO {
	if m == nil {
		return nil
	}
	return &JobDTO{
		ID:          m.ID,
		JobType:     m.JobType,
		TargetKey:   m.TargetKey,
		Payload:     m.Payload,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		NextRunAt:   m.NextRunAt,
		LastError:   m.LastError,
		Status:      m.Status,
		FinishedAt:  m.FinishedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
