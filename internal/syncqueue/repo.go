package syncqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

// Repository persists sync queue entries. Status transitions are conditional
// on the current status so a swept or re-claimed entry is never settled twice.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, entry *models.SyncQueueEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SyncQueueEntry, error)
	FindQueued(ctx context.Context, recordID uuid.UUID, action enums.SyncAction) (*models.SyncQueueEntry, error)
	FetchDue(ctx context.Context, now time.Time, limit int) ([]models.SyncQueueEntry, error)
	Claim(ctx context.Context, id, recordID uuid.UUID, now time.Time) (bool, error)
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	DeferRateLimited(ctx context.Context, id uuid.UUID, next time.Time, message string) (bool, error)
	Retry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, message string) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, attempts int, message string, now time.Time) (bool, error)
	ListByStatus(ctx context.Context, status enums.SyncQueueStatus, limit int) ([]models.SyncQueueEntry, error)
	Reopen(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	RecoverStale(ctx context.Context, startedBefore time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a sync queue repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) model(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.SyncQueueEntry{})
}

func (r *repository) Insert(ctx context.Context, entry *models.SyncQueueEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SyncQueueEntry, error) {
	var entry models.SyncQueueEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindQueued(ctx context.Context, recordID uuid.UUID, action enums.SyncAction) (*models.SyncQueueEntry, error) {
	var rows []models.SyncQueueEntry
	if err := r.model(ctx).
		Where("inventory_record_id = ? AND action = ? AND status = ?", recordID, string(action), string(enums.SyncQueueQueued)).
		Order("enqueued_at ASC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.SyncQueueEntry, error) {
	var rows []models.SyncQueueEntry
	err := r.model(ctx).
		Where("status = ? AND next_attempt_at <= ?", string(enums.SyncQueueQueued), now).
		Order("enqueued_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Claim moves a queued entry to processing unless another entry for the same
// record is already in flight.
func (r *repository) Claim(ctx context.Context, id, recordID uuid.UUID, now time.Time) (bool, error) {
	inFlight := r.db.Session(&gorm.Session{NewDB: true}).
		Model(&models.SyncQueueEntry{}).
		Select("id").
		Where("inventory_record_id = ? AND status = ?", recordID, string(enums.SyncQueueProcessing))
	res := r.model(ctx).
		Where("id = ? AND status = ?", id, string(enums.SyncQueueQueued)).
		Where("NOT EXISTS (?)", inFlight).
		Updates(map[string]any{
			"status":     string(enums.SyncQueueProcessing),
			"started_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

// Release hands a claimed entry back untouched.
func (r *repository) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.model(ctx).
		Where("id = ? AND status = ?", id, string(enums.SyncQueueProcessing)).
		Updates(map[string]any{
			"status":     string(enums.SyncQueueQueued),
			"started_at": nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) Complete(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.model(ctx).
		Where("id = ? AND status = ?", id, string(enums.SyncQueueProcessing)).
		Updates(map[string]any{
			"status":       string(enums.SyncQueueCompleted),
			"completed_at": now,
			"last_error":   nil,
		})
	return res.RowsAffected > 0, res.Error
}

// DeferRateLimited requeues without spending an attempt.
func (r *repository) DeferRateLimited(ctx context.Context, id uuid.UUID, next time.Time, message string) (bool, error) {
	res := r.model(ctx).
		Where("id = ? AND status = ?", id, string(enums.SyncQueueProcessing)).
		Updates(map[string]any{
			"status":           string(enums.SyncQueueQueued),
			"rate_limit_count": gorm.Expr("rate_limit_count + 1"),
			"next_attempt_at":  next,
			"last_error":       message,
			"started_at":       nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) Retry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, message string) (bool, error) {
	res := r.model(ctx).
		Where("id = ? AND status = ?", id, string(enums.SyncQueueProcessing)).
		Updates(map[string]any{
			"status":          string(enums.SyncQueueQueued),
			"attempt_count":   attempts,
			"next_attempt_at": next,
			"last_error":      message,
			"started_at":      nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) Fail(ctx context.Context, id uuid.UUID, attempts int, message string, now time.Time) (bool, error) {
	res := r.model(ctx).
		Where("id = ? AND status = ?", id, string(enums.SyncQueueProcessing)).
		Updates(map[string]any{
			"status":        string(enums.SyncQueueFailed),
			"attempt_count": attempts,
			"last_error":    message,
			"completed_at":  now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) ListByStatus(ctx context.Context, status enums.SyncQueueStatus, limit int) ([]models.SyncQueueEntry, error) {
	var rows []models.SyncQueueEntry
	err := r.model(ctx).
		Where("status = ?", string(status)).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Reopen is the operator path out of failed; the attempt budget starts over.
func (r *repository) Reopen(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.model(ctx).
		Where("id = ? AND status = ?", id, string(enums.SyncQueueFailed)).
		Updates(map[string]any{
			"status":           string(enums.SyncQueueQueued),
			"attempt_count":    0,
			"rate_limit_count": 0,
			"next_attempt_at":  now,
			"started_at":       nil,
			"completed_at":     nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) RecoverStale(ctx context.Context, startedBefore time.Time) (int64, error) {
	res := r.model(ctx).
		Where("status = ? AND started_at < ?", string(enums.SyncQueueProcessing), startedBefore).
		Updates(map[string]any{
			"status":     string(enums.SyncQueueQueued),
			"started_at": nil,
		})
	return res.RowsAffected, res.Error
}
