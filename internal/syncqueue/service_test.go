package syncqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
)

func TestEnqueueMarksRecordPendingAndCoalesces(t *testing.T) {
	f := newFixture(t, config.SyncQueueConfig{MaxAttempts: 4})
	rec := f.seedRecord(t, nil)

	first := f.enqueue(t, rec.ID, enums.SyncActionUpdate)
	assert.Equal(t, enums.SyncQueueQueued, first.Status)
	assert.Equal(t, 4, first.MaxAttempts)
	assert.Equal(t, enums.SyncStatusPending, f.record(t, rec.ID).SyncStatus)

	again := f.enqueue(t, rec.ID, enums.SyncActionUpdate)
	assert.Equal(t, first.ID, again.ID, "queued update absorbs the second request")

	del := f.enqueue(t, rec.ID, enums.SyncActionDelete)
	assert.NotEqual(t, first.ID, del.ID)

	var count int64
	require.NoError(t, f.conn.Model(&models.SyncQueueEntry{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestEnqueueRollsBackWithCallerTransaction(t *testing.T) {
	f := newFixture(t, config.SyncQueueConfig{})
	rec := f.seedRecord(t, nil)

	err := f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := f.service.Enqueue(context.Background(), tx, rec.ID, enums.SyncActionUpdate)
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var count int64
	require.NoError(t, f.conn.Model(&models.SyncQueueEntry{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, enums.SyncStatusSynced, f.record(t, rec.ID).SyncStatus)
}

func TestEnqueueValidatesInput(t *testing.T) {
	f := newFixture(t, config.SyncQueueConfig{})

	_, err := f.service.Enqueue(context.Background(), nil, uuid.Nil, enums.SyncActionCreate)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = f.service.Enqueue(context.Background(), nil, uuid.New(), enums.SyncAction("archive"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestRequeueOnlyReopensFailedEntries(t *testing.T) {
	f := newFixture(t, config.SyncQueueConfig{})
	ctx := context.Background()
	rec := f.seedRecord(t, nil)
	entry := f.enqueue(t, rec.ID, enums.SyncActionUpdate)

	_, err := f.service.Requeue(ctx, entry.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	now := f.clock.Now()
	ok, err := f.repo.Claim(ctx, entry.ID, rec.ID, now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.repo.Fail(ctx, entry.ID, 5, "boom", now)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.records.MarkSyncFailed(ctx, rec.ID, "boom"))

	failed, err := f.service.ListFailed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, entry.ID, failed[0].ID)

	f.clock.Advance(time.Hour)
	dto, err := f.service.Requeue(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncQueueQueued, dto.Status)
	assert.Zero(t, dto.AttemptCount)
	assert.True(t, dto.NextAttemptAt.Equal(f.clock.Now()))
	assert.Equal(t, enums.SyncStatusPending, f.record(t, rec.ID).SyncStatus)

	_, err = f.service.Requeue(ctx, uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestServiceRecoverStaleUsesConfiguredWindow(t *testing.T) {
	f := newFixture(t, config.SyncQueueConfig{StaleAfter: 5 * time.Minute})
	ctx := context.Background()
	rec := f.seedRecord(t, nil)
	entry := f.enqueue(t, rec.ID, enums.SyncActionUpdate)

	ok, err := f.repo.Claim(ctx, entry.ID, rec.ID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(4 * time.Minute)
	recovered, err := f.service.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)

	f.clock.Advance(2 * time.Minute)
	recovered, err = f.service.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)
	assert.Equal(t, enums.SyncQueueQueued, f.entry(t, entry.ID).Status)
}
