package retryjobs

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/db"
	"github.com/angelmondragon/cardsync-backend/pkg/db/dbtest"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
	"github.com/angelmondragon/cardsync-backend/pkg/governor"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
	"github.com/angelmondragon/cardsync-backend/pkg/shopify"
)

type call struct {
	Method string
	Args   []any
}

type fakeRemote struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeRemote) add(method string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: method, Args: args})
	return f.err
}

func (f *fakeRemote) SetProductStatus(_ context.Context, shop, productID, status string) error {
	return f.add("status", productID, status)
}

func (f *fakeRemote) SetInventoryLevel(_ context.Context, shop, inventoryItemID, locationID string, available int) error {
	return f.add("set_level", inventoryItemID, locationID, available)
}

func (f *fakeRemote) ConnectInventoryLevel(_ context.Context, shop, inventoryItemID, locationID string) error {
	return f.add("connect", inventoryItemID, locationID)
}

type harness struct {
	conn     *gorm.DB
	now      time.Time
	remote   *fakeRemote
	governor *governor.Governor
	repo     Repository
	svc      Service
	store    *models.Store
}

func newHarness(t *testing.T, cfg config.RetryJobsConfig) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	h := &harness{
		conn:   conn,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		remote: &fakeRemote{},
		repo:   NewRepository(conn),
	}
	h.governor = governor.New(governor.Options{FailureThreshold: 10, Now: h.clock})

	storeSvc, err := stores.NewService(stores.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repo:     h.repo,
		Tx:       db.NewFromConn(conn),
		Records:  inventory.NewRepository(conn),
		Stores:   storeSvc,
		Remote:   h.remote,
		Governor: h.governor,
		Now:      h.clock,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)
	h.svc = svc

	h.store = &models.Store{ID: uuid.New(), StoreKey: "main", ShopDomain: "cards.myshopify.com", DefaultLocationID: "71", Active: true}
	require.NoError(t, conn.Create(h.store).Error)
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) seedRecord(t *testing.T, mutate func(*models.InventoryRecord)) *models.InventoryRecord {
	t.Helper()
	rec := &models.InventoryRecord{
		ID:                    uuid.New(),
		StoreID:               h.store.ID,
		SKU:                   "SKU-" + uuid.NewString()[:6],
		LocationID:            "71",
		Title:                 "Mew Promo",
		Price:                 decimal.RequireFromString("12.00"),
		Kind:                  enums.ItemKindRaw,
		Quantity:              4,
		ReservedQuantity:      1,
		RemoteProductID:       strPtr("500"),
		RemoteVariantID:       strPtr("501"),
		RemoteInventoryItemID: strPtr("502"),
		RemoteStatus:          enums.RemoteStatusActive,
		SyncStatus:            enums.SyncStatusSynced,
	}
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, h.conn.Create(rec).Error)
	return rec
}

func (h *harness) job(t *testing.T, id uuid.UUID) *models.RetryJob {
	t.Helper()
	job, err := h.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func strPtr(v string) *string { return &v }

func TestEnqueueIsIdempotentPerTypeAndTarget(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{})
	ctx := context.Background()
	payload := Payload{StoreID: h.store.ID, ProductID: "500"}

	first, err := h.svc.Enqueue(ctx, nil, enums.RetryJobEndRemoteListing, "listing:500", payload)
	require.NoError(t, err)
	second, err := h.svc.Enqueue(ctx, nil, enums.RetryJobEndRemoteListing, "listing:500", payload)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := h.svc.Enqueue(ctx, nil, enums.RetryJobZeroRemoteQuantity, "listing:500", Payload{StoreID: h.store.ID, InventoryItemID: "502", LocationID: "71"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "type is part of the identity")

	var count int64
	require.NoError(t, h.conn.Model(&models.RetryJob{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestEnqueueValidatesPayload(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{})
	ctx := context.Background()

	_, err := h.svc.Enqueue(ctx, nil, enums.RetryJobSetRemoteLevel, "k", Payload{StoreID: h.store.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = h.svc.Enqueue(ctx, nil, enums.RetryJobType("resync"), "k", Payload{StoreID: h.store.ID})
	require.Error(t, err)

	_, err = h.svc.Enqueue(ctx, nil, enums.RetryJobEndRemoteListing, " ", Payload{StoreID: h.store.ID, ProductID: "1"})
	require.Error(t, err)
}

func TestEnqueueReopensDoneButNotDeadJobs(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{})
	ctx := context.Background()
	rec := h.seedRecord(t, nil)
	payload := Payload{StoreID: h.store.ID, RecordID: &rec.ID}

	job, err := h.svc.Enqueue(ctx, nil, enums.RetryJobSetRemoteLevel, "level:a", payload)
	require.NoError(t, err)
	summary, err := h.svc.RunDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Done)
	require.Equal(t, enums.RetryJobDone, h.job(t, job.ID).Status)

	require.NoError(t, h.conn.Model(&models.RetryJob{}).Where("id = ?", job.ID).
		Update("attempts", 3).Error)

	h.now = h.now.Add(time.Minute)
	again, err := h.svc.Enqueue(ctx, nil, enums.RetryJobSetRemoteLevel, "level:a", payload)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, enums.RetryJobQueued, again.Status)
	assert.True(t, again.NextRunAt.Equal(h.now))
	assert.Equal(t, 3, again.Attempts, "attempts never move backwards")
	assert.Equal(t, 3+defaultMaxAttempts, again.MaxAttempts)

	dead, err := h.svc.Enqueue(ctx, nil, enums.RetryJobSetRemoteLevel, "level:b", payload)
	require.NoError(t, err)
	require.NoError(t, h.conn.Model(&models.RetryJob{}).Where("id = ?", dead.ID).
		Updates(map[string]any{"status": string(enums.RetryJobDead), "attempts": 8}).Error)

	still, err := h.svc.Enqueue(ctx, nil, enums.RetryJobSetRemoteLevel, "level:b", payload)
	require.NoError(t, err)
	assert.Equal(t, enums.RetryJobDead, still.Status)
	assert.Equal(t, 8, still.Attempts)
}

func TestRunDueExecutesEachJobType(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{})
	ctx := context.Background()
	rec := h.seedRecord(t, func(r *models.InventoryRecord) { r.LocationID = "72" })

	_, err := h.svc.Enqueue(ctx, nil, enums.RetryJobEndRemoteListing, "end", Payload{StoreID: h.store.ID, ProductID: "500"})
	require.NoError(t, err)
	h.now = h.now.Add(time.Second)
	_, err = h.svc.Enqueue(ctx, nil, enums.RetryJobZeroRemoteQuantity, "zero", Payload{StoreID: h.store.ID, InventoryItemID: "502", LocationID: "73"})
	require.NoError(t, err)
	h.now = h.now.Add(time.Second)
	_, err = h.svc.Enqueue(ctx, nil, enums.RetryJobEnforceLocation, "enforce", Payload{StoreID: h.store.ID, RecordID: &rec.ID, InventoryItemID: "502", LocationID: "71"})
	require.NoError(t, err)
	h.now = h.now.Add(time.Second)
	_, err = h.svc.Enqueue(ctx, nil, enums.RetryJobSetRemoteLevel, "level", Payload{StoreID: h.store.ID, RecordID: &rec.ID})
	require.NoError(t, err)

	summary, err := h.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Claimed: 4, Done: 4}, summary)

	assert.Equal(t, []call{
		{Method: "status", Args: []any{"500", shopify.ProductStatusDraft}},
		{Method: "set_level", Args: []any{"502", "73", 0}},
		{Method: "connect", Args: []any{"502", "72"}},
		{Method: "set_level", Args: []any{"502", "72", 3}},
		{Method: "set_level", Args: []any{"502", "71", 0}},
		{Method: "set_level", Args: []any{"502", "72", 3}},
	}, h.remote.calls)
}

func TestRunDueBacksOffThenDies(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{MaxAttempts: 3, BackoffBase: time.Minute, BackoffMax: time.Hour})
	ctx := context.Background()
	h.remote.err = &shopify.APIError{StatusCode: 503}
	job, err := h.svc.Enqueue(ctx, nil, enums.RetryJobEndRemoteListing, "end", Payload{StoreID: h.store.ID, ProductID: "500"})
	require.NoError(t, err)

	summary, err := h.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retried)
	got := h.job(t, job.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.NextRunAt.Equal(h.now.Add(time.Minute)))

	summary, err = h.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Claimed, "not due yet")

	h.now = h.now.Add(time.Minute)
	_, err = h.svc.RunDue(ctx)
	require.NoError(t, err)
	got = h.job(t, job.ID)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, got.NextRunAt.Equal(h.now.Add(2*time.Minute)), "backoff grows with attempts")

	h.now = h.now.Add(2 * time.Minute)
	summary, err = h.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dead)
	got = h.job(t, job.ID)
	assert.Equal(t, enums.RetryJobDead, got.Status)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.LastError)

	dead, err := h.svc.ListDead(ctx, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	reopened, err := h.svc.Reopen(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RetryJobQueued, reopened.Status)
	assert.Zero(t, reopened.Attempts)

	_, err = h.svc.Reopen(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestRunDueRateLimitDoesNotConsumeAttempts(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{MaxAttempts: 1})
	ctx := context.Background()
	h.remote.err = &shopify.RateLimitError{RetryAfter: 4 * time.Second}
	job, err := h.svc.Enqueue(ctx, nil, enums.RetryJobEndRemoteListing, "end", Payload{StoreID: h.store.ID, ProductID: "500"})
	require.NoError(t, err)

	summary, err := h.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deferred)

	got := h.job(t, job.ID)
	assert.Equal(t, enums.RetryJobQueued, got.Status)
	assert.Zero(t, got.Attempts)
	assert.True(t, got.NextRunAt.Equal(h.now.Add(4*time.Second)))
	assert.Equal(t, 4*time.Second, h.governor.Delay("cards.myshopify.com"))
}

func TestRunDueTerminalErrorKillsImmediately(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{MaxAttempts: 5})
	h.remote.err = &shopify.APIError{StatusCode: 422}
	job, err := h.svc.Enqueue(context.Background(), nil, enums.RetryJobZeroRemoteQuantity, "zero", Payload{StoreID: h.store.ID, InventoryItemID: "502", LocationID: "71"})
	require.NoError(t, err)

	_, err = h.svc.RunDue(context.Background())
	require.NoError(t, err)
	got := h.job(t, job.ID)
	assert.Equal(t, enums.RetryJobDead, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestRunDueStopsWhileCircuitOpen(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{})
	for i := 0; i < 10; i++ {
		h.governor.RecordFailure("cards.myshopify.com")
	}
	job, err := h.svc.Enqueue(context.Background(), nil, enums.RetryJobEndRemoteListing, "end", Payload{StoreID: h.store.ID, ProductID: "500"})
	require.NoError(t, err)

	summary, err := h.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Stopped)
	assert.Empty(t, h.remote.calls)
	got := h.job(t, job.ID)
	assert.Equal(t, enums.RetryJobQueued, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestRunDueKillsUndecodablePayload(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{})
	job := &models.RetryJob{
		ID:          uuid.New(),
		JobType:     enums.RetryJobSetRemoteLevel,
		TargetKey:   "broken",
		Payload:     json.RawMessage(`{"store_id":"not-a-uuid"}`),
		MaxAttempts: 5,
		NextRunAt:   h.now,
		Status:      enums.RetryJobQueued,
	}
	require.NoError(t, h.conn.Create(job).Error)

	summary, err := h.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dead)
	assert.Equal(t, enums.RetryJobDead, h.job(t, job.ID).Status)
}

func TestSetLevelSkipsRemovedRecords(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{})
	rec := h.seedRecord(t, func(r *models.InventoryRecord) {
		r.RemoteStatus = enums.RemoteStatusDeleted
		r.RemoteInventoryItemID = nil
	})
	missing := uuid.New()

	_, err := h.svc.Enqueue(context.Background(), nil, enums.RetryJobSetRemoteLevel, "a", Payload{StoreID: h.store.ID, RecordID: &rec.ID})
	require.NoError(t, err)
	_, err = h.svc.Enqueue(context.Background(), nil, enums.RetryJobSetRemoteLevel, "b", Payload{StoreID: h.store.ID, RecordID: &missing})
	require.NoError(t, err)

	summary, err := h.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Done)
	assert.Empty(t, h.remote.calls)
}

func TestRecoverStuckRequeuesOldRunningJobs(t *testing.T) {
	h := newHarness(t, config.RetryJobsConfig{})
	ctx := context.Background()
	job, err := h.svc.Enqueue(ctx, nil, enums.RetryJobEndRemoteListing, "end", Payload{StoreID: h.store.ID, ProductID: "500"})
	require.NoError(t, err)
	ok, err := h.repo.Claim(ctx, job.ID, h.now)
	require.NoError(t, err)
	require.True(t, ok)

	recovered, err := h.svc.RecoverStuck(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, recovered)

	h.now = h.now.Add(20 * time.Minute)
	recovered, err = h.svc.RecoverStuck(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)
	assert.Equal(t, enums.RetryJobQueued, h.job(t, job.ID).Status)
}
