package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

// LevelResult reports what an absolute level snapshot did to a record.
type LevelResult struct {
	Changed      bool
	ImplicitSale bool
	Clamped      bool
}

// Repository persists inventory records. Every mutation is a conditional
// UPDATE whose predicate carries the state it expects, so concurrent handlers
// and workers never overwrite each other.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, rec *models.InventoryRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryRecord, error)
	Match(ctx context.Context, storeID uuid.UUID, key MatchKey) (*models.InventoryRecord, error)
	FindInventoryItemElsewhere(ctx context.Context, storeID uuid.UUID, inventoryItemID, locationID string) (*models.InventoryRecord, error)
	ListByVariant(ctx context.Context, storeID uuid.UUID, variantID string) ([]models.InventoryRecord, error)
	ListByProduct(ctx context.Context, storeID uuid.UUID, productID string) ([]models.InventoryRecord, error)
	ApplySale(ctx context.Context, id uuid.UUID, stamp SaleStamp) (SaleResult, error)
	RestoreGraded(ctx context.Context, id uuid.UUID, orderID string) (bool, error)
	RestoreRaw(ctx context.Context, id uuid.UUID, orderID, lineID string, quantity int) (int, error)
	SetLevel(ctx context.Context, rec *models.InventoryRecord, available int, at time.Time) (LevelResult, error)
	UpdateCatalog(ctx context.Context, id uuid.UUID, title string, price *decimal.Decimal) (bool, error)
	MarkRemoteDeleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkUnlisted(ctx context.Context, id uuid.UUID) (bool, error)
	ApplyOperatorUpdate(ctx context.Context, id uuid.UUID, input UpdateRecordInput) (bool, error)
	MarkSyncPending(ctx context.Context, id uuid.UUID) error
	AttachRemote(ctx context.Context, id uuid.UUID, ref RemoteRef) error
	MarkSynced(ctx context.Context, id uuid.UUID, ref *RemoteRef) error
	MarkSyncFailed(ctx context.Context, id uuid.UUID, message string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
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
	return r.db.WithContext(ctx).Model(&models.InventoryRecord{})
}

func (r *repository) Create(ctx context.Context, rec *models.InventoryRecord) error {
	if rec == nil {
		return fmt.Errorf("inventory record is required")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func first(q *gorm.DB) (*models.InventoryRecord, error) {
	var rows []models.InventoryRecord
	if err := q.Order("created_at ASC").Order("id ASC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Match locates the record an event refers to. Every step is scoped to the
// event's location; without a location nothing matches.
func (r *repository) Match(ctx context.Context, storeID uuid.UUID, key MatchKey) (*models.InventoryRecord, error) {
	key = key.normalized()
	if key.LocationID == "" {
		return nil, nil
	}
	scoped := func() *gorm.DB {
		return r.model(ctx).Where("store_id = ? AND location_id = ? AND remote_status <> ?",
			storeID, key.LocationID, string(enums.RemoteStatusDeleted))
	}

	if key.InventoryItemID != "" || key.VariantID != "" {
		q := scoped()
		switch {
		case key.InventoryItemID != "" && key.VariantID != "":
			q = q.Where("(remote_inventory_item_id = ? OR remote_variant_id = ?)", key.InventoryItemID, key.VariantID)
		case key.InventoryItemID != "":
			q = q.Where("remote_inventory_item_id = ?", key.InventoryItemID)
		default:
			q = q.Where("remote_variant_id = ?", key.VariantID)
		}
		rec, err := first(q)
		if err != nil || rec != nil {
			return rec, err
		}
		if key.SKU == "" {
			return nil, nil
		}
		return first(scoped().Where("sku = ? AND remote_variant_id IS NOT NULL", key.SKU))
	}

	if key.SKU != "" {
		return first(scoped().Where("sku = ?", key.SKU))
	}
	return nil, nil
}

func (r *repository) FindInventoryItemElsewhere(ctx context.Context, storeID uuid.UUID, inventoryItemID, locationID string) (*models.InventoryRecord, error) {
	if inventoryItemID == "" {
		return nil, nil
	}
	return first(r.model(ctx).Where(
		"store_id = ? AND remote_inventory_item_id = ? AND location_id <> ? AND remote_status <> ?",
		storeID, inventoryItemID, locationID, string(enums.RemoteStatusDeleted)))
}

func (r *repository) ListByVariant(ctx context.Context, storeID uuid.UUID, variantID string) ([]models.InventoryRecord, error) {
	var rows []models.InventoryRecord
	err := r.model(ctx).
		Where("store_id = ? AND remote_variant_id = ? AND remote_status <> ?", storeID, variantID, string(enums.RemoteStatusDeleted)).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByProduct(ctx context.Context, storeID uuid.UUID, productID string) ([]models.InventoryRecord, error) {
	var rows []models.InventoryRecord
	err := r.model(ctx).
		Where("store_id = ? AND remote_product_id = ?", storeID, productID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

const quantityCASAttempts = 5

// ApplySale takes up to the sold quantity, flooring at zero, and stamps the
// sale state once the record is empty. The units actually taken are kept per
// order line so a restock never returns more than the order removed; a
// replayed order line changes nothing. A record emptied by an inventory
// adjustment is attributed to the first order that confirms it.
func (r *repository) ApplySale(ctx context.Context, id uuid.UUID, stamp SaleStamp) (SaleResult, error) {
	q := stamp.Quantity
	if q <= 0 {
		return SaleResult{}, nil
	}

	var line *models.SaleLine
	if stamp.OrderID != "" {
		line = &models.SaleLine{ID: uuid.New(), InventoryRecordID: id, OrderID: stamp.OrderID, LineID: stamp.LineID}
		ins := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "inventory_record_id"}, {Name: "order_id"}, {Name: "line_id"}},
				DoNothing: true,
			}).
			Create(line)
		if ins.Error != nil {
			return SaleResult{}, fmt.Errorf("record sale line: %w", ins.Error)
		}
		if ins.RowsAffected == 0 {
			return SaleResult{}, nil
		}
	}

	taken, remaining, err := r.takeUnits(ctx, id, q)
	if err != nil {
		return SaleResult{}, err
	}
	if line != nil && taken > 0 {
		if err := r.db.WithContext(ctx).Model(&models.SaleLine{}).
			Where("id = ?", line.ID).
			Update("units", taken).Error; err != nil {
			return SaleResult{}, fmt.Errorf("record sale line units: %w", err)
		}
	}

	var orderID *string
	if stamp.OrderID != "" {
		orderID = &stamp.OrderID
	}
	stampable := "(sold_at IS NULL OR (sold_order_id IS NULL AND sale_channel = ?))"
	if taken == 0 {
		stampable = "(sold_at IS NOT NULL AND sold_order_id IS NULL AND sale_channel = ?)"
	}
	stamped := r.model(ctx).
		Where("id = ? AND quantity = 0", id).
		Where(stampable, string(enums.SaleChannelInventoryAdjustment)).
		Updates(map[string]any{
			"sold_at":       gorm.Expr("COALESCE(sold_at, ?)", stamp.At),
			"sold_price":    stamp.Price,
			"sold_order_id": orderID,
			"sold_quantity": q,
			"sale_channel":  string(stamp.Channel),
		})
	if stamped.Error != nil {
		return SaleResult{}, stamped.Error
	}
	return SaleResult{
		Decremented: taken > 0,
		SoldOut:     stamped.RowsAffected > 0,
		Units:       taken,
		Remaining:   remaining,
	}, nil
}

// takeUnits removes up to q units with a compare-and-set against the stored
// quantity, so the count taken is exact under concurrent sales. Holds are
// clamped to what remains.
func (r *repository) takeUnits(ctx context.Context, id uuid.UUID, q int) (taken, remaining int, err error) {
	for attempt := 0; attempt < quantityCASAttempts; attempt++ {
		var current int
		if err := r.model(ctx).Select("quantity").Where("id = ?", id).Row().Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, 0, nil
			}
			return 0, 0, fmt.Errorf("read quantity: %w", err)
		}
		if current <= 0 {
			return 0, 0, nil
		}
		taken = min(q, current)
		remaining = current - taken
		res := r.model(ctx).
			Where("id = ? AND quantity = ?", id, current).
			Updates(map[string]any{
				"quantity": remaining,
				"reserved_quantity": gorm.Expr(
					"CASE WHEN reserved_quantity > ? THEN ? ELSE reserved_quantity END", remaining, remaining),
			})
		if res.Error != nil {
			return 0, 0, res.Error
		}
		if res.RowsAffected == 1 {
			return taken, remaining, nil
		}
	}
	return 0, 0, fmt.Errorf("quantity of %s kept changing during sale", id)
}

func clearedSale() map[string]any {
	return map[string]any{
		"sold_at":       nil,
		"sold_price":    nil,
		"sold_order_id": nil,
		"sold_quantity": 0,
		"sale_channel":  nil,
	}
}

// RestoreGraded puts a unique item back on the shelf when the order that sold
// it is cancelled or refunded. Replays find no matching order and change nothing.
func (r *repository) RestoreGraded(ctx context.Context, id uuid.UUID, orderID string) (bool, error) {
	if orderID == "" {
		return false, nil
	}
	updates := clearedSale()
	updates["quantity"] = 1
	res := r.model(ctx).Where("id = ? AND sold_order_id = ?", id, orderID).Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// RestoreRaw returns units of a sold order line to stock, never more than
// the line took and has not yet got back. An empty lineID spreads the restock
// over the order's lines for the record. The sale state is cleared once the
// selling order has nothing outstanding on the record.
func (r *repository) RestoreRaw(ctx context.Context, id uuid.UUID, orderID, lineID string, quantity int) (int, error) {
	if quantity <= 0 || orderID == "" {
		return 0, nil
	}
	q := r.db.WithContext(ctx).
		Where("inventory_record_id = ? AND order_id = ? AND restored_units < units", id, orderID)
	if lineID != "" {
		q = q.Where("line_id = ?", lineID)
	}
	var lines []models.SaleLine
	if err := q.Order("created_at ASC").Order("id ASC").Find(&lines).Error; err != nil {
		return 0, fmt.Errorf("load sale lines: %w", err)
	}

	restored := 0
	for _, line := range lines {
		if restored == quantity {
			break
		}
		give := min(quantity-restored, line.Units-line.RestoredUnits)
		res := r.db.WithContext(ctx).Model(&models.SaleLine{}).
			Where("id = ? AND restored_units = ?", line.ID, line.RestoredUnits).
			Update("restored_units", line.RestoredUnits+give)
		if res.Error != nil {
			return 0, fmt.Errorf("restore sale line: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			restored += give
		}
	}
	if restored == 0 {
		return 0, nil
	}

	if err := r.model(ctx).Where("id = ?", id).Update("quantity", gorm.Expr("quantity + ?", restored)).Error; err != nil {
		return 0, err
	}
	outstanding := r.db.WithContext(ctx).Model(&models.SaleLine{}).
		Select("1").
		Where("inventory_record_id = ? AND order_id = ? AND restored_units < units", id, orderID)
	if err := r.model(ctx).
		Where("id = ? AND sold_order_id = ?", id, orderID).
		Where("NOT EXISTS (?)", outstanding).
		Updates(clearedSale()).Error; err != nil {
		return 0, err
	}
	return restored, nil
}

// SetLevel applies an absolute remote level. The remote shows sellable units,
// so raw records keep their local holds on top of it; graded records never
// exceed one. Dropping to zero is an implicit sale.
func (r *repository) SetLevel(ctx context.Context, rec *models.InventoryRecord, available int, at time.Time) (LevelResult, error) {
	if rec == nil {
		return LevelResult{}, fmt.Errorf("inventory record is required")
	}
	if available < 0 {
		available = 0
	}

	if rec.Kind == enums.ItemKindGraded {
		if available == 0 {
			sold, err := r.implicitSale(ctx, rec.ID, at, "quantity > 0")
			return LevelResult{Changed: sold, ImplicitSale: sold}, err
		}
		res := r.model(ctx).Where("id = ? AND quantity <> 1", rec.ID).Update("quantity", 1)
		return LevelResult{Changed: res.RowsAffected > 0, Clamped: available > 1}, res.Error
	}

	if available == 0 {
		sold, err := r.implicitSale(ctx, rec.ID, at, "quantity > 0 AND reserved_quantity = 0")
		if err != nil || sold {
			return LevelResult{Changed: sold, ImplicitSale: sold}, err
		}
	}
	res := r.model(ctx).
		Where("id = ? AND quantity <> ? + reserved_quantity", rec.ID, available).
		Update("quantity", gorm.Expr("? + reserved_quantity", available))
	return LevelResult{Changed: res.RowsAffected > 0}, res.Error
}

func (r *repository) implicitSale(ctx context.Context, id uuid.UUID, at time.Time, predicate string) (bool, error) {
	res := r.model(ctx).
		Where("id = ?", id).
		Where(predicate).
		Updates(map[string]any{
			"sold_quantity":     gorm.Expr("quantity"),
			"quantity":          0,
			"reserved_quantity": 0,
			"sold_at":           gorm.Expr("COALESCE(sold_at, ?)", at),
			"sold_price":        nil,
			"sold_order_id":     nil,
			"sale_channel":      string(enums.SaleChannelInventoryAdjustment),
		})
	return res.RowsAffected > 0, res.Error
}

// UpdateCatalog propagates remote title and price. Quantity is never touched.
func (r *repository) UpdateCatalog(ctx context.Context, id uuid.UUID, title string, price *decimal.Decimal) (bool, error) {
	updates := map[string]any{"title": title}
	q := r.model(ctx).Where("id = ?", id)
	if price != nil {
		updates["price"] = *price
		q = q.Where("(title <> ? OR price <> ?)", title, *price)
	} else {
		q = q.Where("title <> ?", title)
	}
	res := q.Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkRemoteDeleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.model(ctx).
		Where("id = ? AND remote_status <> ?", id, string(enums.RemoteStatusDeleted)).
		Updates(map[string]any{
			"remote_status":            string(enums.RemoteStatusDeleted),
			"remote_product_id":        nil,
			"remote_variant_id":        nil,
			"remote_inventory_item_id": nil,
			"remote_removed_at":        at,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkUnlisted(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.model(ctx).
		Where("id = ? AND remote_status = ?", id, string(enums.RemoteStatusActive)).
		Update("remote_status", string(enums.RemoteStatusUnlisted))
	return res.RowsAffected > 0, res.Error
}

// ApplyOperatorUpdate writes operator edits. Holds can never exceed stock,
// checked against the stored value when only one side changes.
func (r *repository) ApplyOperatorUpdate(ctx context.Context, id uuid.UUID, input UpdateRecordInput) (bool, error) {
	updates := map[string]any{}
	q := r.model(ctx).Where("id = ?", id)
	if input.Title != nil {
		updates["title"] = *input.Title
	}
	if input.Price != nil {
		updates["price"] = *input.Price
	}
	switch {
	case input.Quantity != nil && input.ReservedQuantity != nil:
		if *input.ReservedQuantity > *input.Quantity {
			return false, nil
		}
		updates["quantity"] = *input.Quantity
		updates["reserved_quantity"] = *input.ReservedQuantity
	case input.Quantity != nil:
		updates["quantity"] = *input.Quantity
		q = q.Where("reserved_quantity <= ?", *input.Quantity)
	case input.ReservedQuantity != nil:
		updates["reserved_quantity"] = *input.ReservedQuantity
		q = q.Where("quantity >= ?", *input.ReservedQuantity)
	}
	if len(updates) == 0 {
		return true, nil
	}
	res := q.Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkSyncPending(ctx context.Context, id uuid.UUID) error {
	return r.model(ctx).Where("id = ?", id).Update("sync_status", string(enums.SyncStatusPending)).Error
}

// AttachRemote stores the identifiers the remote assigned to a new listing.
func (r *repository) AttachRemote(ctx context.Context, id uuid.UUID, ref RemoteRef) error {
	return r.model(ctx).Where("id = ?", id).Updates(remoteRefUpdates(ref, map[string]any{})).Error
}

func (r *repository) MarkSynced(ctx context.Context, id uuid.UUID, ref *RemoteRef) error {
	updates := map[string]any{
		"sync_status":     string(enums.SyncStatusSynced),
		"last_sync_error": nil,
	}
	if ref != nil {
		remoteRefUpdates(*ref, updates)
	}
	return r.model(ctx).Where("id = ?", id).Updates(updates).Error
}

func remoteRefUpdates(ref RemoteRef, updates map[string]any) map[string]any {
	updates["remote_product_id"] = nullable(ref.ProductID)
	updates["remote_variant_id"] = nullable(ref.VariantID)
	updates["remote_inventory_item_id"] = nullable(ref.InventoryItemID)
	updates["remote_status"] = string(enums.RemoteStatusActive)
	updates["remote_removed_at"] = nil
	return updates
}

func (r *repository) MarkSyncFailed(ctx context.Context, id uuid.UUID, message string) error {
	return r.model(ctx).Where("id = ?", id).Updates(map[string]any{
		"sync_status":     string(enums.SyncStatusFailed),
		"last_sync_error": message,
	}).Error
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
