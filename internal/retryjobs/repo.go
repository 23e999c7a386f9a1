package retryjobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

// Repository persists retry jobs. A job is identified by type and target;
// every status change is conditional on the status it leaves.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, job *models.RetryJob) (bool, error)
	ReopenDone(ctx context.Context, jobType enums.RetryJobType, targetKey string, payload json.RawMessage, maxAttempts int, now time.Time) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.RetryJob, error)
	FindByKey(ctx context.Context, jobType enums.RetryJobType, targetKey string) (*models.RetryJob, error)
	FetchDue(ctx context.Context, now time.Time, limit int) ([]models.RetryJob, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Defer(ctx context.Context, id uuid.UUID, next time.Time, message string) (bool, error)
	Retry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, message string) (bool, error)
	Kill(ctx context.Context, id uuid.UUID, attempts int, message string, now time.Time) (bool, error)
	ListByStatus(ctx context.Context, status enums.RetryJobStatus, limit int) ([]models.RetryJob, error)
	Reopen(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	RecoverStuck(ctx context.Context, startedBefore time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a retry job repository bound to the provided database.
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
	return r.db.WithContext(ctx).Model(&models.RetryJob{})
}

func (r *repository) InsertIfAbsent(ctx context.Context, job *models.RetryJob) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_type"}, {Name: "target_key"}},
			DoNothing: true,
		}).
		Create(job)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReopenDone brings a finished job for the same target back with a fresh
// payload. Attempts carry over and the budget grows by maxAttempts on top of
// them. Queued, running and dead jobs are left alone.
func (r *repository) ReopenDone(ctx context.Context, jobType enums.RetryJobType, targetKey string, payload json.RawMessage, maxAttempts int, now time.Time) (bool, error) {
	res := r.model(ctx).
		Where("job_type = ? AND target_key = ? AND status = ?", string(jobType), targetKey, string(enums.RetryJobDone)).
		Updates(map[string]any{
			"status":       string(enums.RetryJobQueued),
			"payload":      payload,
			"max_attempts": gorm.Expr("attempts + ?", maxAttempts),
			"next_run_at":  now,
			"last_error":   nil,
			"started_at":   nil,
			"finished_at":  nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.RetryJob, error) {
	var job models.RetryJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindByKey(ctx context.Context, jobType enums.RetryJobType, targetKey string) (*models.RetryJob, error) {
	var job models.RetryJob
	if err := r.db.WithContext(ctx).
		Where("job_type = ? AND target_key = ?", string(jobType), targetKey).
		First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.RetryJob, error) {
	var rows []models.RetryJob
	err := r.model(ctx).
		Where("status = ? AND next_run_at <= ?", string(enums.RetryJobQueued), now).
		Order("next_run_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, id, enums.RetryJobQueued, map[string]any{
		"status":     string(enums.RetryJobRunning),
		"started_at": now,
	})
}

func (r *repository) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, id, enums.RetryJobRunning, map[string]any{
		"status":     string(enums.RetryJobQueued),
		"started_at": nil,
	})
}

func (r *repository) Complete(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, id, enums.RetryJobRunning, map[string]any{
		"status":      string(enums.RetryJobDone),
		"finished_at": now,
		"last_error":  nil,
	})
}

// Defer requeues without consuming an attempt.
func (r *repository) Defer(ctx context.Context, id uuid.UUID, next time.Time, message string) (bool, error) {
	return r.transition(ctx, id, enums.RetryJobRunning, map[string]any{
		"status":      string(enums.RetryJobQueued),
		"next_run_at": next,
		"last_error":  message,
		"started_at":  nil,
	})
}

func (r *repository) Retry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, message string) (bool, error) {
	return r.transition(ctx, id, enums.RetryJobRunning, map[string]any{
		"status":      string(enums.RetryJobQueued),
		"attempts":    attempts,
		"next_run_at": next,
		"last_error":  message,
		"started_at":  nil,
	})
}

func (r *repository) Kill(ctx context.Context, id uuid.UUID, attempts int, message string, now time.Time) (bool, error) {
	return r.transition(ctx, id, enums.RetryJobRunning, map[string]any{
		"status":      string(enums.RetryJobDead),
		"attempts":    attempts,
		"last_error":  message,
		"finished_at": now,
	})
}

func (r *repository) ListByStatus(ctx context.Context, status enums.RetryJobStatus, limit int) ([]models.RetryJob, error) {
	var rows []models.RetryJob
	err := r.model(ctx).
		Where("status = ?", string(status)).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) Reopen(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, id, enums.RetryJobDead, map[string]any{
		"status":      string(enums.RetryJobQueued),
		"attempts":    0,
		"next_run_at": now,
		"started_at":  nil,
		"finished_at": nil,
	})
}

func (r *repository) RecoverStuck(ctx context.Context, startedBefore time.Time) (int64, error) {
	res := r.model(ctx).
		Where("status = ? AND started_at < ?", string(enums.RetryJobRunning), startedBefore).
		Updates(map[string]any{
			"status":     string(enums.RetryJobQueued),
			"started_at": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) transition(ctx context.Context, id uuid.UUID, from enums.RetryJobStatus, updates map[string]any) (bool, error) {
	res := r.model(ctx).Where("id = ? AND status = ?", id, string(from)).Updates(updates)
	return res.RowsAffected > 0, res.Error
}
