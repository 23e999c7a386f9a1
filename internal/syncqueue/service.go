package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
)

const (
	defaultMaxAttempts = 5
	defaultStaleAfter  = 10 * time.Minute
	defaultListLimit   = 100
	maxListLimit       = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the producer and operator side of the sync queue.
type Service interface {
	Enqueue(ctx context.Context, tx *gorm.DB, recordID uuid.UUID, action enums.SyncAction) (*models.SyncQueueEntry, error)
	ListFailed(ctx context.Context, limit int) ([]EntryDTO, error)
	Requeue(ctx context.Context, id uuid.UUID) (*EntryDTO, error)
	RecoverStale(ctx context.Context) (int64, error)
}

// ServiceParams groups the service dependencies.
type ServiceParams struct {
	Repo    Repository
	Records inventory.Repository
	Tx      txRunner
	Config  config.SyncQueueConfig
	Now     func() time.Time
}

type service struct {
	repo        Repository
	records     inventory.Repository
	tx          txRunner
	maxAttempts int
	staleAfter  time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("sync queue repository required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	staleAfter := params.Config.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:        params.Repo,
		records:     params.Records,
		tx:          params.Tx,
		maxAttempts: maxAttempts,
		staleAfter:  staleAfter,
		now:         now,
	}, nil
}

// Enqueue schedules a push for the record inside tx and marks the record
// pending. A queued entry for the same record and action absorbs the request;
// the push always reads the record as it is when the entry runs.
func (s *service) Enqueue(ctx context.Context, tx *gorm.DB, recordID uuid.UUID, action enums.SyncAction) (*models.SyncQueueEntry, error) {
	if recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "inventory record id is required")
	}
	if !action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid sync action %q", action))
	}
	repo := s.repo.WithTx(tx)

	existing, err := repo.FindQueued(ctx, recordID, action)
	if err != nil {
		return nil, fmt.Errorf("find queued entry: %w", err)
	}
	entry := existing
	if entry == nil {
		now := s.now().UTC()
		entry = &models.SyncQueueEntry{
			ID:                uuid.New(),
			InventoryRecordID: recordID,
			Action:            action,
			Status:            enums.SyncQueueQueued,
			MaxAttempts:       s.maxAttempts,
			NextAttemptAt:     now,
			EnqueuedAt:        now,
		}
		if err := repo.Insert(ctx, entry); err != nil {
			return nil, fmt.Errorf("insert sync entry: %w", err)
		}
	}
	if err := s.records.WithTx(tx).MarkSyncPending(ctx, recordID); err != nil {
		return nil, fmt.Errorf("mark record pending: %w", err)
	}
	return entry, nil
}

func (s *service) ListFailed(ctx context.Context, limit int) ([]EntryDTO, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.repo.ListByStatus(ctx, enums.SyncQueueFailed, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed sync entries")
	}
	out := make([]EntryDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

// Requeue reopens a failed entry with a fresh attempt budget.
func (s *service) Requeue(ctx context.Context, id uuid.UUID) (*EntryDTO, error) {
	var entry *models.SyncQueueEntry
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "sync queue entry not found")
			}
			return err
		}
		reopened, err := repo.Reopen(ctx, id, s.now().UTC())
		if err != nil {
			return err
		}
		if !reopened {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("entry is %s, only failed entries can be requeued", current.Status))
		}
		if err := s.records.WithTx(tx).MarkSyncPending(ctx, current.InventoryRecordID); err != nil {
			return err
		}
		entry, err = repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue sync entry")
	}
	return FromModel(entry), nil
}

// RecoverStale returns entries abandoned in processing by a crashed worker.
func (s *service) RecoverStale(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	recovered, err := s.repo.RecoverStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stale sync entries: %w", err)
	}
	return recovered, nil
}
