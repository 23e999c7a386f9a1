package shopifywebhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/internal/ledger"
	"github.com/angelmondragon/cardsync-backend/internal/retryjobs"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/pkg/db"
	"github.com/angelmondragon/cardsync-backend/pkg/db/dbtest"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
)

const testShop = "cards.myshopify.com"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	conn  *gorm.DB
	svc   Service
	store *models.Store
}

type failingRecords struct {
	inventory.Repository
	err error
}

func (f failingRecords) WithTx(tx *gorm.DB) inventory.Repository {
	return failingRecords{Repository: f.Repository.WithTx(tx), err: f.err}
}

func (f failingRecords) ApplySale(context.Context, uuid.UUID, inventory.SaleStamp) (inventory.SaleResult, error) {
	return inventory.SaleResult{}, f.err
}

func newHarness(t *testing.T, wrap func(inventory.Repository) inventory.Repository) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	clock := func() time.Time { return testNow }

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	storeSvc, err := stores.NewService(stores.NewRepository(conn))
	require.NoError(t, err)
	retrySvc, err := retryjobs.NewService(retryjobs.ServiceParams{
		Logger: logg,
		Repo:   retryjobs.NewRepository(conn),
		Tx:     db.NewFromConn(conn),
		Now:    clock,
	})
	require.NoError(t, err)

	var records inventory.Repository = inventory.NewRepository(conn)
	if wrap != nil {
		records = wrap(records)
	}
	svc, err := NewService(ServiceParams{
		Logger:  logg,
		Ledger:  ledgerSvc,
		Records: records,
		Stores:  storeSvc,
		Retry:   retrySvc,
		Tx:      db.NewFromConn(conn),
		Now:     clock,
	})
	require.NoError(t, err)

	store := &models.Store{ID: uuid.New(), StoreKey: "main", ShopDomain: testShop, DefaultLocationID: "71", Active: true}
	require.NoError(t, conn.Create(store).Error)
	return &harness{conn: conn, svc: svc, store: store}
}

func (h *harness) deliver(t *testing.T, topic, eventID string, body any) (Outcome, error) {
	t.Helper()
	raw, ok := body.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return h.svc.Handle(context.Background(), Delivery{
		EventID:    eventID,
		Topic:      topic,
		ShopDomain: testShop,
		Body:       raw,
	})
}

func (h *harness) mustDeliver(t *testing.T, topic, eventID string, body any) Outcome {
	t.Helper()
	outcome, err := h.deliver(t, topic, eventID, body)
	require.NoError(t, err)
	return outcome
}

func (h *harness) seedRecord(t *testing.T, mutate func(*models.InventoryRecord)) *models.InventoryRecord {
	t.Helper()
	rec := &models.InventoryRecord{
		ID:           uuid.New(),
		StoreID:      h.store.ID,
		SKU:          "ABC",
		LocationID:   "71",
		Title:        "Charizard PSA 10",
		Price:        decimal.RequireFromString("199.90"),
		Kind:         enums.ItemKindGraded,
		Quantity:     1,
		RemoteStatus: enums.RemoteStatusActive,
		SyncStatus:   enums.SyncStatusSynced,
	}
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, h.conn.Create(rec).Error)
	return rec
}

func (h *harness) record(t *testing.T, id uuid.UUID) models.InventoryRecord {
	t.Helper()
	var rec models.InventoryRecord
	require.NoError(t, h.conn.First(&rec, "id = ?", id).Error)
	return rec
}

func (h *harness) jobs(t *testing.T, jobType enums.RetryJobType) []models.RetryJob {
	t.Helper()
	var rows []models.RetryJob
	require.NoError(t, h.conn.Where("job_type = ?", string(jobType)).Find(&rows).Error)
	return rows
}

func listed(rec *models.InventoryRecord) {
	product, variant, item := "300", "301", "302"
	rec.RemoteProductID = &product
	rec.RemoteVariantID = &variant
	rec.RemoteInventoryItemID = &item
}

func rawPack(qty, reserved int) func(*models.InventoryRecord) {
	return func(rec *models.InventoryRecord) {
		rec.SKU = "PACK"
		rec.Title = "Booster pack"
		rec.Price = decimal.RequireFromString("4.50")
		rec.Kind = enums.ItemKindRaw
		rec.Quantity = qty
		rec.ReservedQuantity = reserved
	}
}

func paidOrder(id int64, line map[string]any) map[string]any {
	return map[string]any{
		"id":          id,
		"source_name": "web",
		"location_id": 71,
		"line_items":  []any{line},
	}
}

func strPtr(value string) *string {
	return &value
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestSaleConfirmedSellsGradedItem(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, listed)

	outcome := h.mustDeliver(t, TopicOrdersPaid, "evt-1", paidOrder(5001, map[string]any{
		"id": 1, "sku": "ABC", "variant_id": 301, "quantity": 1, "price": "189.00",
	}))
	assert.Equal(t, OutcomeApplied, outcome)

	got := h.record(t, rec.ID)
	assert.Equal(t, 0, got.Quantity)
	require.NotNil(t, got.SoldAt)
	require.NotNil(t, got.SoldOrderID)
	assert.Equal(t, "5001", *got.SoldOrderID)
	assert.Equal(t, 1, got.SoldQuantity)
	require.NotNil(t, got.SaleChannel)
	assert.Equal(t, enums.SaleChannelOnlineStore, *got.SaleChannel)
	require.True(t, got.SoldPrice.Valid)
	assert.True(t, decimal.RequireFromString("189").Equal(got.SoldPrice.Decimal))

	jobs := h.jobs(t, enums.RetryJobEndRemoteListing)
	require.Len(t, jobs, 1)
	assert.Equal(t, inventory.RecordKey(rec), jobs[0].TargetKey)
}

func TestDuplicateDeliveryDoesNotDecrementTwice(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, rawPack(3, 0))
	order := paidOrder(5002, map[string]any{"id": 1, "sku": "PACK", "quantity": 1})

	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicOrdersPaid, "evt-dup", order))
	assert.Equal(t, OutcomeDuplicate, h.mustDeliver(t, TopicOrdersPaid, "evt-dup", order))

	got := h.record(t, rec.ID)
	assert.Equal(t, 2, got.Quantity)
	assert.Nil(t, got.SoldAt)

	var receipts int64
	require.NoError(t, h.conn.Model(&models.InboundEvent{}).Count(&receipts).Error)
	assert.Equal(t, int64(1), receipts)
}

func TestOrderCancelledRestoresGradedItem(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, listed)
	line := map[string]any{"id": 1, "sku": "ABC", "variant_id": 301, "quantity": 1, "price": "199.90"}

	h.mustDeliver(t, TopicOrdersPaid, "evt-paid", paidOrder(5001, line))
	require.Equal(t, 0, h.record(t, rec.ID).Quantity)

	cancelled := paidOrder(5001, line)
	cancelled["refunds"] = []any{}
	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicOrdersCancelled, "evt-cancel", cancelled))

	got := h.record(t, rec.ID)
	assert.Equal(t, 1, got.Quantity)
	assert.Nil(t, got.SoldAt)
	assert.Nil(t, got.SoldOrderID)
	assert.Nil(t, got.SaleChannel)
	assert.False(t, got.SoldPrice.Valid)

	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicOrdersCancelled, "evt-cancel-again", cancelled),
		"a second cancellation finds no sale for the order")
	assert.Equal(t, 1, h.record(t, rec.ID).Quantity)
}

func TestOrderCancelledWithRefundsLeavesRestockToRefund(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, rawPack(2, 0))
	line := map[string]any{"id": 1, "sku": "PACK", "quantity": 2}

	h.mustDeliver(t, TopicOrdersPaid, "evt-paid", paidOrder(6001, line))
	cancelled := paidOrder(6001, line)
	cancelled["refunds"] = []any{map[string]any{"id": 77}}

	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicOrdersCancelled, "evt-cancel", cancelled))
	assert.Equal(t, 0, h.record(t, rec.ID).Quantity)
}

func TestRefundRestocksRawUnits(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, rawPack(2, 0))

	h.mustDeliver(t, TopicOrdersPaid, "evt-paid", paidOrder(6001, map[string]any{"id": 1, "sku": "PACK", "quantity": 2}))
	sold := h.record(t, rec.ID)
	require.Equal(t, 0, sold.Quantity)
	require.NotNil(t, sold.SoldOrderID)
	assert.Equal(t, 2, sold.SoldQuantity)

	noRestock := map[string]any{
		"id":       90,
		"order_id": 6001,
		"refund_line_items": []any{map[string]any{
			"line_item_id": 1, "quantity": 2, "restock_type": "no_restock",
			"line_item": map[string]any{"id": 1, "sku": "PACK"},
		}},
	}
	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicRefundsCreate, "evt-refund-0", noRestock))
	assert.Equal(t, 0, h.record(t, rec.ID).Quantity)

	restock := map[string]any{
		"id":       91,
		"order_id": 6001,
		"refund_line_items": []any{map[string]any{
			"line_item_id": 1, "quantity": 2, "restock_type": "return",
			"line_item": map[string]any{"id": 1, "sku": "PACK"},
		}},
	}
	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicRefundsCreate, "evt-refund-1", restock))

	got := h.record(t, rec.ID)
	assert.Equal(t, 2, got.Quantity)
	assert.Nil(t, got.SoldAt)
	assert.Nil(t, got.SoldOrderID)
}

func TestOversellZeroesRemoteQuantity(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, func(r *models.InventoryRecord) {
		rawPack(1, 0)(r)
		r.RemoteInventoryItemID = strPtr("802")
	})

	h.mustDeliver(t, TopicOrdersPaid, "evt-1", paidOrder(7001, map[string]any{"id": 1, "sku": "PACK", "quantity": 3}))

	got := h.record(t, rec.ID)
	assert.Equal(t, 0, got.Quantity)
	assert.Equal(t, 3, got.SoldQuantity)

	jobs := h.jobs(t, enums.RetryJobZeroRemoteQuantity)
	require.Len(t, jobs, 1)
	assert.Equal(t, h.store.ID.String()+":802@71", jobs[0].TargetKey)
}

func TestCancelOfUnsoldOrderLeavesRawStock(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, rawPack(5, 0))

	cancelled := paidOrder(8001, map[string]any{"id": 1, "sku": "PACK", "quantity": 2})
	cancelled["refunds"] = []any{}
	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicOrdersCancelled, "evt-cancel", cancelled))
	assert.Equal(t, 5, h.record(t, rec.ID).Quantity, "an order that never sold here returns nothing")
	assert.Empty(t, h.jobs(t, enums.RetryJobSetRemoteLevel))
}

func TestCancelAfterOversellReturnsOnlyUnitsTaken(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, rawPack(1, 0))
	line := map[string]any{"id": 1, "sku": "PACK", "quantity": 3}

	h.mustDeliver(t, TopicOrdersPaid, "evt-paid", paidOrder(8002, line))
	require.Equal(t, 0, h.record(t, rec.ID).Quantity)

	cancelled := paidOrder(8002, line)
	cancelled["refunds"] = []any{}
	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicOrdersCancelled, "evt-cancel", cancelled))

	got := h.record(t, rec.ID)
	assert.Equal(t, 1, got.Quantity, "only the unit the sale removed comes back")
	assert.Nil(t, got.SoldAt)
	assert.Nil(t, got.SoldOrderID)

	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicOrdersCancelled, "evt-cancel-again", cancelled))
	assert.Equal(t, 1, h.record(t, rec.ID).Quantity)
}

func TestPartialRefundsNeverExceedUnitsSold(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, rawPack(4, 0))
	h.mustDeliver(t, TopicOrdersPaid, "evt-paid", paidOrder(8003, map[string]any{"id": 5, "sku": "PACK", "quantity": 2}))
	require.Equal(t, 2, h.record(t, rec.ID).Quantity)

	refund := func(id int64, qty int) map[string]any {
		return map[string]any{
			"id":       id,
			"order_id": 8003,
			"refund_line_items": []any{map[string]any{
				"line_item_id": 5, "quantity": qty, "restock_type": "return",
				"line_item": map[string]any{"id": 5, "sku": "PACK"},
			}},
		}
	}
	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicRefundsCreate, "evt-refund-1", refund(1, 1)))
	assert.Equal(t, 3, h.record(t, rec.ID).Quantity)
	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicRefundsCreate, "evt-refund-2", refund(2, 2)))
	assert.Equal(t, 4, h.record(t, rec.ID).Quantity, "the second refund is capped at the unit still out")
	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicRefundsCreate, "evt-refund-3", refund(3, 1)))
	assert.Equal(t, 4, h.record(t, rec.ID).Quantity)
}

func TestSaleWithLocalHoldsSchedulesLevelPush(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, rawPack(5, 2))

	h.mustDeliver(t, TopicOrdersPaid, "evt-1", paidOrder(7002, map[string]any{"id": 1, "sku": "PACK", "quantity": 1}))

	got := h.record(t, rec.ID)
	assert.Equal(t, 4, got.Quantity)
	assert.Equal(t, 2, got.ReservedQuantity)

	jobs := h.jobs(t, enums.RetryJobSetRemoteLevel)
	require.Len(t, jobs, 1)
	assert.Equal(t, inventory.RecordKey(rec), jobs[0].TargetKey)
}

func TestSaleWithoutMatchingRecordIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, nil)

	order := paidOrder(8001, map[string]any{"id": 1, "sku": "ABC", "quantity": 1})
	order["location_id"] = 99
	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicOrdersPaid, "evt-1", order),
		"matching never crosses locations")
	assert.Equal(t, 1, h.record(t, rec.ID).Quantity)
}

func TestLevelZeroIsImplicitSaleAndLateOrderClaimsIt(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, listed)
	level := map[string]any{"inventory_item_id": 302, "location_id": 71, "available": 0}

	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicInventoryLevelsUpdate, "evt-level-1", level))
	got := h.record(t, rec.ID)
	assert.Equal(t, 0, got.Quantity)
	require.NotNil(t, got.SoldAt)
	assert.Nil(t, got.SoldOrderID)
	require.NotNil(t, got.SaleChannel)
	assert.Equal(t, enums.SaleChannelInventoryAdjustment, *got.SaleChannel)
	assert.Len(t, h.jobs(t, enums.RetryJobEndRemoteListing), 1)

	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicInventoryLevelsUpdate, "evt-level-2", level))

	h.mustDeliver(t, TopicOrdersPaid, "evt-paid", paidOrder(5003, map[string]any{
		"id": 1, "sku": "ABC", "variant_id": 301, "quantity": 1, "price": "199.90",
	}))
	got = h.record(t, rec.ID)
	assert.Equal(t, 0, got.Quantity)
	require.NotNil(t, got.SoldOrderID)
	assert.Equal(t, "5003", *got.SoldOrderID)
	assert.Equal(t, enums.SaleChannelOnlineStore, *got.SaleChannel)
	assert.Len(t, h.jobs(t, enums.RetryJobEndRemoteListing), 1)
}

func TestLevelOnRawRecordKeepsHolds(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, func(r *models.InventoryRecord) {
		rawPack(5, 2)(r)
		r.RemoteInventoryItemID = strPtr("902")
	})

	outcome := h.mustDeliver(t, TopicInventoryLevelsUpdate, "evt-1",
		map[string]any{"inventory_item_id": 902, "location_id": 71, "available": 7})
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 9, h.record(t, rec.ID).Quantity)
}

func TestGradedLevelAboveOneIsClampedAndCorrected(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, listed)

	outcome := h.mustDeliver(t, TopicInventoryLevelsUpdate, "evt-1",
		map[string]any{"inventory_item_id": 302, "location_id": 71, "available": 3})
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, h.record(t, rec.ID).Quantity)

	jobs := h.jobs(t, enums.RetryJobSetRemoteLevel)
	require.Len(t, jobs, 1)
	assert.Equal(t, inventory.RecordKey(rec), jobs[0].TargetKey)
}

func TestLevelAtForeignLocationEnforcesRecordLocation(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, listed)

	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicInventoryLevelsUpdate, "evt-0",
		map[string]any{"inventory_item_id": 302, "location_id": 99, "available": 0}))
	assert.Empty(t, h.jobs(t, enums.RetryJobEnforceLocation))

	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicInventoryLevelsUpdate, "evt-1",
		map[string]any{"inventory_item_id": 302, "location_id": 99, "available": 1}))

	jobs := h.jobs(t, enums.RetryJobEnforceLocation)
	require.Len(t, jobs, 1)
	assert.Equal(t, h.store.ID.String()+":302@99", jobs[0].TargetKey)
	assert.Equal(t, 1, h.record(t, rec.ID).Quantity, "the record at its own location is untouched")
}

func TestLevelWithoutCountIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, listed)

	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicInventoryLevelsUpdate, "evt-1",
		map[string]any{"inventory_item_id": 302, "location_id": 71, "available": nil}))
	assert.Equal(t, 1, h.record(t, rec.ID).Quantity)
}

func TestProductEventsPropagateCatalogState(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, listed)
	sibling := h.seedRecord(t, func(r *models.InventoryRecord) {
		r.SKU = "ABC-2"
		r.RemoteProductID = strPtr("300")
		r.RemoteVariantID = strPtr("311")
	})

	outcome := h.mustDeliver(t, TopicProductsUpdate, "evt-update", map[string]any{
		"id": 300, "title": "Charizard PSA 10 (1999)",
		"variants": []any{map[string]any{"id": 301, "price": "250.00"}},
	})
	assert.Equal(t, OutcomeApplied, outcome)
	got := h.record(t, rec.ID)
	assert.Equal(t, "Charizard PSA 10 (1999)", got.Title)
	assert.True(t, decimal.RequireFromString("250").Equal(got.Price))
	assert.Equal(t, 1, got.Quantity)
	assert.Equal(t, "Charizard PSA 10", h.record(t, sibling.ID).Title, "only the listed variant changes")

	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicProductListingsRemove, "evt-unlist",
		map[string]any{"product_listing": map[string]any{"product_id": 300}}))
	assert.Equal(t, enums.RemoteStatusUnlisted, h.record(t, rec.ID).RemoteStatus)
	assert.Equal(t, enums.RemoteStatusUnlisted, h.record(t, sibling.ID).RemoteStatus)

	assert.Equal(t, OutcomeApplied, h.mustDeliver(t, TopicProductsDelete, "evt-delete", map[string]any{"id": 300}))
	got = h.record(t, rec.ID)
	assert.Equal(t, enums.RemoteStatusDeleted, got.RemoteStatus)
	assert.Nil(t, got.RemoteProductID)
	assert.Nil(t, got.RemoteVariantID)
	assert.Nil(t, got.RemoteInventoryItemID)
	require.NotNil(t, got.RemoteRemovedAt)

	assert.Equal(t, OutcomeNoop, h.mustDeliver(t, TopicProductsDelete, "evt-delete-2", map[string]any{"id": 300}))
}

func TestUnknownShopIsAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.seedRecord(t, listed)

	outcome, err := h.svc.Handle(context.Background(), Delivery{
		EventID:    "evt-1",
		Topic:      TopicInventoryLevelsUpdate,
		ShopDomain: "other.myshopify.com",
		Body:       []byte(`{"inventory_item_id":302,"location_id":71,"available":0}`),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, 1, h.record(t, rec.ID).Quantity)
}

func TestUnusablePayloadsAreAcknowledged(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		topic string
		body  []byte
	}{
		{topic: "customers/create", body: []byte(`{"id":1}`)},
		{topic: TopicOrdersPaid, body: []byte(`{"id":`)},
		{topic: TopicOrdersPaid, body: []byte(`{"line_items":[]}`)},
		{topic: TopicInventoryLevelsUpdate, body: []byte(`{"location_id":71,"available":1}`)},
	}
	for i, tc := range cases {
		outcome, err := h.deliver(t, tc.topic, "evt-bad-"+string(rune('a'+i)), tc.body)
		require.NoError(t, err, tc.topic)
		assert.Equal(t, OutcomeNoop, outcome, tc.topic)
	}
}

func TestDataLayerFailureRollsBackLedger(t *testing.T) {
	boom := errors.New("connection reset")
	h := newHarness(t, func(repo inventory.Repository) inventory.Repository {
		return failingRecords{Repository: repo, err: boom}
	})
	rec := h.seedRecord(t, rawPack(3, 0))

	_, err := h.deliver(t, TopicOrdersPaid, "evt-1", paidOrder(9001, map[string]any{"id": 1, "sku": "PACK", "quantity": 1}))
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInternal, typed.Code())

	var receipts int64
	require.NoError(t, h.conn.Model(&models.InboundEvent{}).Count(&receipts).Error)
	assert.Equal(t, int64(0), receipts, "the receipt rolls back so the retry is processed")
	assert.Equal(t, 3, h.record(t, rec.ID).Quantity)
}

func TestHandleRequiresEventIdentity(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.deliver(t, TopicOrdersPaid, "", []byte(`{}`))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}
