package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/pkg/db/dbtest"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
)

func newTestLedger(t *testing.T) (*service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	return svc.(*service), conn
}

func TestNewServiceRequiresRepo(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
}

func TestRecordIfNewRejectsDuplicates(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()
	input := RecordInput{EventID: "evt-1", Topic: "orders/paid", ShopDomain: "Cards.myshopify.com", Payload: []byte(`{"id":1}`)}

	isNew, err := svc.RecordIfNew(ctx, input)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = svc.RecordIfNew(ctx, input)
	require.NoError(t, err)
	assert.False(t, isNew)

	exists, err := svc.Exists(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRecordIfNewRequiresIdentifiers(t *testing.T) {
	svc, _ := newTestLedger(t)
	_, err := svc.RecordIfNew(context.Background(), RecordInput{Topic: "orders/paid"})
	require.Error(t, err)
	_, err = svc.RecordIfNew(context.Background(), RecordInput{EventID: "evt"})
	require.Error(t, err)
}

func TestRecordIfNewRollsBackWithTransaction(t *testing.T) {
	svc, conn := newTestLedger(t)
	ctx := context.Background()

	err := conn.Transaction(func(tx *gorm.DB) error {
		isNew, err := svc.WithTx(tx).RecordIfNew(ctx, RecordInput{EventID: "evt-rollback", Topic: "orders/paid"})
		require.NoError(t, err)
		require.True(t, isNew)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	exists, err := svc.Exists(ctx, "evt-rollback")
	require.NoError(t, err)
	assert.False(t, exists, "a rolled back handler leaves the event unrecorded")
}

func TestRecordIfNewStoresNonJSONBodies(t *testing.T) {
	svc, conn := newTestLedger(t)
	isNew, err := svc.RecordIfNew(context.Background(), RecordInput{EventID: "evt-raw", Topic: "orders/paid", Payload: []byte("not json")})
	require.NoError(t, err)
	require.True(t, isNew)

	var row models.InboundEvent
	require.NoError(t, conn.First(&row, "event_id = ?", "evt-raw").Error)
	assert.JSONEq(t, `"not json"`, string(row.Payload))
}

func TestConcurrentDuplicatesRecordOnce(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := svc.RecordIfNew(ctx, RecordInput{EventID: "evt-race", Topic: "orders/paid"})
			if err != nil {
				return
			}
			if isNew {
				mu.Lock()
				newCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, newCount)
}

func TestPurgeOlderThan(t *testing.T) {
	svc, conn := newTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	old := models.InboundEvent{EventID: "old", Topic: "orders/paid", ShopDomain: "a", Payload: []byte(`{}`), ReceivedAt: now.AddDate(0, 0, -100)}
	fresh := models.InboundEvent{EventID: "fresh", Topic: "orders/paid", ShopDomain: "a", Payload: []byte(`{}`), ReceivedAt: now.AddDate(0, 0, -1)}
	require.NoError(t, conn.Create(&old).Error)
	require.NoError(t, conn.Create(&fresh).Error)

	removed, err := svc.PurgeOlderThan(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = svc.PurgeOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	exists, err := svc.Exists(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, exists)
}
