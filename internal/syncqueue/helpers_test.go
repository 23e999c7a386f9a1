package syncqueue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/db"
	"github.com/angelmondragon/cardsync-backend/pkg/db/dbtest"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	"github.com/angelmondragon/cardsync-backend/pkg/governor"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
	"github.com/angelmondragon/cardsync-backend/pkg/shopify"
)

const testShop = "cards.myshopify.com"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type remoteCall struct {
	Method string
	Args   []any
}

type fakeRemote struct {
	mu        sync.Mutex
	calls     []remoteCall
	createErr []error
	updateErr error
	deleteErr error
	levelErr  error
	created   shopify.ProductRef
}

func (f *fakeRemote) record(method string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{Method: method, Args: args})
}

func (f *fakeRemote) CreateProduct(_ context.Context, shop string, in shopify.ProductInput) (shopify.ProductRef, error) {
	f.record("create", shop, in.SKU)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErr) > 0 {
		err := f.createErr[0]
		if len(f.createErr) > 1 {
			f.createErr = f.createErr[1:]
		}
		if err != nil {
			return shopify.ProductRef{}, err
		}
	}
	return f.created, nil
}

func (f *fakeRemote) UpdateProduct(_ context.Context, shop string, ref shopify.ProductRef, in shopify.ProductInput) error {
	f.record("update", shop, ref.ProductID, in.Title)
	return f.updateErr
}

func (f *fakeRemote) DeleteProduct(_ context.Context, shop, productID string) error {
	f.record("delete", shop, productID)
	return f.deleteErr
}

func (f *fakeRemote) SetInventoryLevel(_ context.Context, shop, inventoryItemID, locationID string, available int) error {
	f.record("set_level", shop, inventoryItemID, locationID, available)
	return f.levelErr
}

func (f *fakeRemote) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, call.Method)
	}
	return out
}

type fixture struct {
	conn     *gorm.DB
	clock    *testClock
	remote   *fakeRemote
	governor *governor.Governor
	records  inventory.Repository
	repo     Repository
	service  Service
	drainer  *Drainer
	store    *models.Store
	sleeps   []time.Duration
}

func newFixture(t *testing.T, cfg config.SyncQueueConfig) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	clock := newTestClock()
	f := &fixture{
		conn:   conn,
		clock:  clock,
		remote: &fakeRemote{created: shopify.ProductRef{ProductID: "9001", VariantID: "9002", InventoryItemID: "9003"}},
		governor: governor.New(governor.Options{
			FailureThreshold: 10,
			Now:              clock.Now,
		}),
		records: inventory.NewRepository(conn),
		repo:    NewRepository(conn),
	}

	tx := db.NewFromConn(conn)
	svc, err := NewService(ServiceParams{Repo: f.repo, Records: f.records, Tx: tx, Config: cfg, Now: clock.Now})
	require.NoError(t, err)
	f.service = svc

	storeSvc, err := stores.NewService(stores.NewRepository(conn))
	require.NoError(t, err)

	drainer, err := NewDrainer(DrainerParams{
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repo:     f.repo,
		Records:  f.records,
		Stores:   storeSvc,
		Remote:   f.remote,
		Governor: f.governor,
		Tx:       tx,
		Now:      clock.Now,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	})
	require.NoError(t, err)
	f.drainer = drainer

	f.store = &models.Store{ID: uuid.New(), StoreKey: "main", ShopDomain: testShop, DefaultLocationID: "71", Active: true}
	require.NoError(t, conn.Create(f.store).Error)
	return f
}

func (f *fixture) seedRecord(t *testing.T, mutate func(*models.InventoryRecord)) *models.InventoryRecord {
	t.Helper()
	rec := &models.InventoryRecord{
		ID:           uuid.New(),
		StoreID:      f.store.ID,
		SKU:          "SKU-" + uuid.NewString()[:6],
		LocationID:   "71",
		Title:        "Blastoise Base Set",
		Price:        decimal.RequireFromString("49.50"),
		Kind:         enums.ItemKindRaw,
		Quantity:     3,
		RemoteStatus: enums.RemoteStatusActive,
		SyncStatus:   enums.SyncStatusSynced,
	}
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, f.conn.Create(rec).Error)
	return rec
}

func (f *fixture) enqueue(t *testing.T, recordID uuid.UUID, action enums.SyncAction) *models.SyncQueueEntry {
	t.Helper()
	entry, err := f.service.Enqueue(context.Background(), nil, recordID, action)
	require.NoError(t, err)
	return entry
}

func (f *fixture) entry(t *testing.T, id uuid.UUID) *models.SyncQueueEntry {
	t.Helper()
	entry, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return entry
}

func (f *fixture) record(t *testing.T, id uuid.UUID) *models.InventoryRecord {
	t.Helper()
	rec, err := f.records.FindByID(context.Background(), id)
	require.NoError(t, err)
	return rec
}

var errBoom = errors.New("connection reset by peer")

func strPtr(v string) *string { return &v }
