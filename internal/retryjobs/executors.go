package retryjobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	"github.com/angelmondragon/cardsync-backend/pkg/shopify"
)

// Remote is the slice of the Shopify client corrective jobs use.
type Remote interface {
	SetProductStatus(ctx context.Context, shop, productID, status string) error
	SetInventoryLevel(ctx context.Context, shop, inventoryItemID, locationID string, available int) error
	ConnectInventoryLevel(ctx context.Context, shop, inventoryItemID, locationID string) error
}

type recordLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryRecord, error)
}

// execute runs the corrective action for one job. A nil error means the
// remote now matches, including when there is nothing left to correct.
func (s *service) execute(ctx context.Context, shop string, jobType enums.RetryJobType, p Payload) error {
	switch jobType {
	case enums.RetryJobEndRemoteListing:
		return s.endListing(ctx, shop, p)
	case enums.RetryJobZeroRemoteQuantity:
		return s.remote.SetInventoryLevel(ctx, shop, p.InventoryItemID, p.LocationID, 0)
	case enums.RetryJobEnforceLocation:
		return s.enforceLocation(ctx, shop, p)
	case enums.RetryJobSetRemoteLevel:
		return s.setLevel(ctx, shop, p)
	default:
		return errUnknownJobType
	}
}

func (s *service) endListing(ctx context.Context, shop string, p Payload) error {
	productID := p.ProductID
	if productID == "" {
		rec, err := s.loadRecord(ctx, p)
		if err != nil || rec == nil || rec.RemoteProductID == nil {
			return err
		}
		productID = *rec.RemoteProductID
	}
	err := s.remote.SetProductStatus(ctx, shop, productID, shopify.ProductStatusDraft)
	if shopify.IsNotFound(err) {
		return nil
	}
	return err
}

// enforceLocation stocks the record's inventory item at the record's own
// location and zeroes the foreign location that reported stock.
func (s *service) enforceLocation(ctx context.Context, shop string, p Payload) error {
	rec, err := s.loadRecord(ctx, p)
	if err != nil || rec == nil {
		return err
	}
	itemID := p.InventoryItemID
	if rec.RemoteInventoryItemID != nil {
		itemID = *rec.RemoteInventoryItemID
	}
	if itemID == "" {
		return nil
	}
	if rec.LocationID != p.LocationID {
		if err := s.remote.ConnectInventoryLevel(ctx, shop, itemID, rec.LocationID); err != nil {
			return err
		}
		if err := s.remote.SetInventoryLevel(ctx, shop, itemID, rec.LocationID, rec.Available()); err != nil {
			return err
		}
	}
	return s.remote.SetInventoryLevel(ctx, shop, itemID, p.LocationID, 0)
}

// setLevel pushes the sellable count as it is when the job runs.
func (s *service) setLevel(ctx context.Context, shop string, p Payload) error {
	rec, err := s.loadRecord(ctx, p)
	if err != nil || rec == nil {
		return err
	}
	if rec.RemoteInventoryItemID == nil || rec.RemoteStatus == enums.RemoteStatusDeleted {
		return nil
	}
	return s.remote.SetInventoryLevel(ctx, shop, *rec.RemoteInventoryItemID, rec.LocationID, rec.Available())
}

// loadRecord returns nil when the record no longer exists.
func (s *service) loadRecord(ctx context.Context, p Payload) (*models.InventoryRecord, error) {
	rec, err := s.records.FindByID(ctx, *p.RecordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load inventory record: %w", err)
	}
	return rec, nil
}
