package shopifywebhook

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/internal/retryjobs"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
)

const restockNone = "no_restock"

// handlerRun is the per-delivery state shared by the handlers. Everything it
// touches is bound to the delivery transaction.
type handlerRun struct {
	*service
	tx      *gorm.DB
	records inventory.Repository
	store   *stores.StoreContext
	at      time.Time
}

func (h *handlerRun) dispatch(ctx context.Context, kind EventKind, body []byte) (Outcome, error) {
	switch kind {
	case EventSaleConfirmed:
		var p orderPayload
		if !h.decoded(ctx, body, &p) {
			return OutcomeNoop, nil
		}
		return h.saleConfirmed(ctx, p)
	case EventOrderCancelled:
		var p orderPayload
		if !h.decoded(ctx, body, &p) {
			return OutcomeNoop, nil
		}
		return h.orderCancelled(ctx, p)
	case EventRefundCreated:
		var p refundPayload
		if !h.decoded(ctx, body, &p) {
			return OutcomeNoop, nil
		}
		return h.refundCreated(ctx, p)
	case EventInventoryLevelChanged:
		var p inventoryLevelPayload
		if !h.decoded(ctx, body, &p) {
			return OutcomeNoop, nil
		}
		return h.levelChanged(ctx, p)
	case EventProductUpdated:
		var p productPayload
		if !h.decoded(ctx, body, &p) {
			return OutcomeNoop, nil
		}
		return h.productUpdated(ctx, p)
	case EventProductDeleted:
		var p productDeletePayload
		if !h.decoded(ctx, body, &p) {
			return OutcomeNoop, nil
		}
		return h.productDeleted(ctx, formatID(p.ID))
	case EventListingUnpublished:
		var p productListingPayload
		if !h.decoded(ctx, body, &p) {
			return OutcomeNoop, nil
		}
		return h.listingUnpublished(ctx, formatID(p.ProductListing.ProductID))
	case EventUnknown:
		h.logg.Info(ctx, "unhandled webhook topic acknowledged")
		return OutcomeNoop, nil
	default:
		return OutcomeNoop, fmt.Errorf("event kind %d has no handler", kind)
	}
}

func (h *handlerRun) decoded(ctx context.Context, body []byte, dest any) bool {
	if err := decode(body, dest); err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "reason", err.Error()), "webhook payload rejected")
		return false
	}
	return true
}

func (h *handlerRun) location(explicit *int64) string {
	return h.store.LocationOr(formatOptionalID(explicit))
}

func (h *handlerRun) match(ctx context.Context, line lineItem, locationID string) (*models.InventoryRecord, error) {
	rec, err := h.records.Match(ctx, h.store.StoreID, inventory.MatchKey{
		VariantID:  formatOptionalID(line.VariantID),
		SKU:        line.SKU,
		LocationID: locationID,
	})
	if err != nil {
		return nil, fmt.Errorf("match line item %d: %w", line.ID, err)
	}
	if rec == nil {
		h.logg.Info(h.logg.WithFields(ctx, map[string]any{
			"line_item_id": line.ID,
			"sku":          line.SKU,
			"location_id":  locationID,
		}), "no inventory record matches line item")
	}
	return rec, nil
}

func (h *handlerRun) saleConfirmed(ctx context.Context, order orderPayload) (Outcome, error) {
	orderID := formatID(order.ID)
	channel := enums.SaleChannelFromSource(order.SourceName)
	locationID := h.location(order.LocationID)

	applied := false
	for _, line := range order.LineItems {
		if line.Quantity <= 0 {
			continue
		}
		rec, err := h.match(ctx, line, locationID)
		if err != nil {
			return "", err
		}
		if rec == nil {
			continue
		}

		price := decimal.NullDecimal{}
		if line.Price != nil {
			price = decimal.NewNullDecimal(*line.Price)
		}
		res, err := h.records.ApplySale(ctx, rec.ID, inventory.SaleStamp{
			OrderID:  orderID,
			LineID:   formatID(line.ID),
			Price:    price,
			Channel:  channel,
			Quantity: line.Quantity,
			At:       h.at,
		})
		if err != nil {
			return "", fmt.Errorf("apply sale to %s: %w", rec.ID, err)
		}
		if !res.Decremented && !res.SoldOut {
			continue
		}
		applied = true

		if rec.Kind == enums.ItemKindGraded {
			if res.SoldOut {
				if err := h.endListing(ctx, rec); err != nil {
					return "", err
				}
			}
			continue
		}
		if !res.Decremented {
			continue
		}
		if res.Units < line.Quantity {
			if err := h.zeroRemote(ctx, rec); err != nil {
				return "", err
			}
			continue
		}
		if err := h.syncBack(ctx, rec, res.Remaining, min(rec.ReservedQuantity, res.Remaining)); err != nil {
			return "", err
		}
	}
	return outcomeOf(applied), nil
}

func (h *handlerRun) orderCancelled(ctx context.Context, order orderPayload) (Outcome, error) {
	if len(order.Refunds) > 0 {
		h.logg.Info(ctx, "cancelled order carries refunds; restock follows the refund")
		return OutcomeNoop, nil
	}
	orderID := formatID(order.ID)
	locationID := h.location(order.LocationID)

	applied := false
	for _, line := range order.LineItems {
		changed, err := h.restore(ctx, line, orderID, locationID, line.Quantity)
		if err != nil {
			return "", err
		}
		applied = applied || changed
	}
	return outcomeOf(applied), nil
}

func (h *handlerRun) refundCreated(ctx context.Context, refund refundPayload) (Outcome, error) {
	orderID := formatID(refund.OrderID)

	applied := false
	for _, item := range refund.RefundLineItems {
		if item.RestockType == restockNone {
			continue
		}
		line := item.LineItem
		if line.ID == 0 {
			line.ID = item.LineItemID
		}
		changed, err := h.restore(ctx, line, orderID, h.location(item.LocationID), item.Quantity)
		if err != nil {
			return "", err
		}
		applied = applied || changed
	}
	return outcomeOf(applied), nil
}

// restore reverses up to quantity units of one sold line item.
func (h *handlerRun) restore(ctx context.Context, line lineItem, orderID, locationID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, nil
	}
	rec, err := h.match(ctx, line, locationID)
	if err != nil || rec == nil {
		return false, err
	}

	if rec.Kind == enums.ItemKindGraded {
		changed, err := h.records.RestoreGraded(ctx, rec.ID, orderID)
		if err != nil {
			return false, fmt.Errorf("restore graded %s: %w", rec.ID, err)
		}
		return changed, nil
	}

	restored, err := h.records.RestoreRaw(ctx, rec.ID, orderID, formatID(line.ID), quantity)
	if err != nil {
		return false, fmt.Errorf("restore raw %s: %w", rec.ID, err)
	}
	if restored == 0 {
		return false, nil
	}
	if err := h.syncBack(ctx, rec, rec.Quantity+restored, rec.ReservedQuantity); err != nil {
		return false, err
	}
	return true, nil
}

func (h *handlerRun) levelChanged(ctx context.Context, p inventoryLevelPayload) (Outcome, error) {
	if p.Available == nil {
		h.logg.Info(ctx, "inventory level without a count ignored")
		return OutcomeNoop, nil
	}
	itemID := formatID(p.InventoryItemID)
	locationID := formatID(p.LocationID)
	available := *p.Available

	rec, err := h.records.Match(ctx, h.store.StoreID, inventory.MatchKey{
		InventoryItemID: itemID,
		LocationID:      locationID,
	})
	if err != nil {
		return "", fmt.Errorf("match inventory item %s: %w", itemID, err)
	}
	if rec == nil {
		return h.foreignLevel(ctx, itemID, locationID, available)
	}

	res, err := h.records.SetLevel(ctx, rec, available, h.at)
	if err != nil {
		return "", fmt.Errorf("set level on %s: %w", rec.ID, err)
	}

	switch {
	case rec.Kind == enums.ItemKindGraded && res.ImplicitSale:
		err = h.endListing(ctx, rec)
	case res.Clamped:
		err = h.setRemoteLevel(ctx, rec)
	case rec.Kind == enums.ItemKindRaw && res.Changed && !res.ImplicitSale:
		err = h.syncBack(ctx, rec, available+rec.ReservedQuantity, rec.ReservedQuantity)
	}
	if err != nil {
		return "", err
	}
	return outcomeOf(res.Changed || res.Clamped), nil
}

// foreignLevel handles stock appearing at a location that holds no record for
// the item. The local record elsewhere is left alone; the remote is corrected.
func (h *handlerRun) foreignLevel(ctx context.Context, itemID, locationID string, available int) (Outcome, error) {
	other, err := h.records.FindInventoryItemElsewhere(ctx, h.store.StoreID, itemID, locationID)
	if err != nil {
		return "", fmt.Errorf("find inventory item %s: %w", itemID, err)
	}
	if other == nil || available <= 0 {
		return OutcomeNoop, nil
	}
	h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
		"inventory_item_id": itemID,
		"location_id":       locationID,
		"record_location":   other.LocationID,
	}), "stock reported at a location without a record")

	recordID := other.ID
	err = h.enqueue(ctx, enums.RetryJobEnforceLocation, itemLocationKey(h.store, itemID, locationID), retryjobs.Payload{
		StoreID:         h.store.StoreID,
		RecordID:        &recordID,
		InventoryItemID: itemID,
		LocationID:      locationID,
	})
	if err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (h *handlerRun) productUpdated(ctx context.Context, p productPayload) (Outcome, error) {
	applied := false
	for _, v := range p.Variants {
		rows, err := h.records.ListByVariant(ctx, h.store.StoreID, formatID(v.ID))
		if err != nil {
			return "", fmt.Errorf("list variant %d: %w", v.ID, err)
		}
		for i := range rows {
			title := p.Title
			if title == "" {
				title = rows[i].Title
			}
			changed, err := h.records.UpdateCatalog(ctx, rows[i].ID, title, v.Price)
			if err != nil {
				return "", fmt.Errorf("update catalog %s: %w", rows[i].ID, err)
			}
			applied = applied || changed
		}
	}
	return outcomeOf(applied), nil
}

func (h *handlerRun) productDeleted(ctx context.Context, productID string) (Outcome, error) {
	rows, err := h.records.ListByProduct(ctx, h.store.StoreID, productID)
	if err != nil {
		return "", fmt.Errorf("list product %s: %w", productID, err)
	}
	applied := false
	for i := range rows {
		changed, err := h.records.MarkRemoteDeleted(ctx, rows[i].ID, h.at)
		if err != nil {
			return "", fmt.Errorf("mark deleted %s: %w", rows[i].ID, err)
		}
		applied = applied || changed
	}
	return outcomeOf(applied), nil
}

func (h *handlerRun) listingUnpublished(ctx context.Context, productID string) (Outcome, error) {
	rows, err := h.records.ListByProduct(ctx, h.store.StoreID, productID)
	if err != nil {
		return "", fmt.Errorf("list product %s: %w", productID, err)
	}
	applied := false
	for i := range rows {
		changed, err := h.records.MarkUnlisted(ctx, rows[i].ID)
		if err != nil {
			return "", fmt.Errorf("mark unlisted %s: %w", rows[i].ID, err)
		}
		applied = applied || changed
	}
	return outcomeOf(applied), nil
}

// syncBack pushes the sellable count back when local holds make the remote
// count stale. The executor recomputes the level when it runs.
func (h *handlerRun) syncBack(ctx context.Context, rec *models.InventoryRecord, quantity, reserved int) error {
	if rec.Kind != enums.ItemKindRaw || quantity <= 0 || reserved <= 0 {
		return nil
	}
	return h.setRemoteLevel(ctx, rec)
}

func (h *handlerRun) setRemoteLevel(ctx context.Context, rec *models.InventoryRecord) error {
	recordID := rec.ID
	return h.enqueue(ctx, enums.RetryJobSetRemoteLevel, inventory.RecordKey(rec), retryjobs.Payload{
		StoreID:         h.store.StoreID,
		RecordID:        &recordID,
		InventoryItemID: deref(rec.RemoteInventoryItemID),
		LocationID:      rec.LocationID,
	})
}

func (h *handlerRun) endListing(ctx context.Context, rec *models.InventoryRecord) error {
	recordID := rec.ID
	return h.enqueue(ctx, enums.RetryJobEndRemoteListing, inventory.RecordKey(rec), retryjobs.Payload{
		StoreID:   h.store.StoreID,
		RecordID:  &recordID,
		ProductID: deref(rec.RemoteProductID),
	})
}

func (h *handlerRun) zeroRemote(ctx context.Context, rec *models.InventoryRecord) error {
	itemID := deref(rec.RemoteInventoryItemID)
	if itemID == "" {
		return nil
	}
	recordID := rec.ID
	return h.enqueue(ctx, enums.RetryJobZeroRemoteQuantity, itemLocationKey(h.store, itemID, rec.LocationID), retryjobs.Payload{
		StoreID:         h.store.StoreID,
		RecordID:        &recordID,
		InventoryItemID: itemID,
		LocationID:      rec.LocationID,
	})
}

func (h *handlerRun) enqueue(ctx context.Context, jobType enums.RetryJobType, key string, payload retryjobs.Payload) error {
	if _, err := h.retry.Enqueue(ctx, h.tx, jobType, key, payload); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", jobType, key, err)
	}
	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"job_type":   string(jobType),
		"target_key": key,
	}), "retry job enqueued")
	return nil
}

func itemLocationKey(store *stores.StoreContext, itemID, locationID string) string {
	return fmt.Sprintf("%s:%s@%s", store.StoreID, itemID, locationID)
}

func outcomeOf(applied bool) Outcome {
	if applied {
		return OutcomeApplied
	}
	return OutcomeNoop
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
