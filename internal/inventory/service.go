package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/pkg/db"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SyncEnqueuer schedules an outbound push inside the caller's transaction.
type SyncEnqueuer interface {
	Enqueue(ctx context.Context, tx *gorm.DB, recordID uuid.UUID, action enums.SyncAction) (*models.SyncQueueEntry, error)
}

type storeLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*stores.StoreDTO, error)
}

// Service exposes operator-initiated inventory mutations. Each one commits
// together with the sync queue entry that pushes it to the remote catalog.
type Service interface {
	Create(ctx context.Context, input CreateRecordInput) (*RecordDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*RecordDTO, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateRecordInput) (*RecordDTO, error)
	RequestDelete(ctx context.Context, id uuid.UUID) error
}

// ServiceParams groups the service dependencies.
type ServiceParams struct {
	Repo   Repository
	Stores storeLookup
	Sync   SyncEnqueuer
	Tx     txRunner
}

type service struct {
	repo   Repository
	stores storeLookup
	sync   SyncEnqueuer
	tx     txRunner
}

// NewService builds the operator inventory service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Stores == nil {
		return nil, fmt.Errorf("store lookup required")
	}
	if params.Sync == nil {
		return nil, fmt.Errorf("sync enqueuer required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:   params.Repo,
		stores: params.Stores,
		sync:   params.Sync,
		tx:     params.Tx,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateRecordInput) (*RecordDTO, error) {
	if input.StoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store_id is required")
	}
	sku := strings.TrimSpace(input.SKU)
	if sku == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku is required")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "kind must be graded or raw")
	}
	if err := checkQuantities(input.Kind, input.Quantity, input.ReservedQuantity); err != nil {
		return nil, err
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}

	store, err := s.stores.GetByID(ctx, input.StoreID)
	if err != nil {
		return nil, err
	}
	location := strings.TrimSpace(input.LocationID)
	if location == "" {
		location = store.DefaultLocationID
	}

	rec := &models.InventoryRecord{
		ID:               uuid.New(),
		StoreID:          store.ID,
		SKU:              sku,
		LocationID:       location,
		Title:            strings.TrimSpace(input.Title),
		Price:            input.Price.Round(2),
		Kind:             input.Kind,
		Quantity:         input.Quantity,
		ReservedQuantity: input.ReservedQuantity,
		RemoteStatus:     enums.RemoteStatusActive,
		SyncStatus:       enums.SyncStatusPending,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, rec); err != nil {
			return err
		}
		_, err := s.sync.Enqueue(ctx, tx, rec.ID, enums.SyncActionCreate)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "sku already exists at this location")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create inventory record")
	}
	return s.Get(ctx, rec.ID)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*RecordDTO, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromModel(rec), nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateRecordInput) (*RecordDTO, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title must not be empty")
	}
	if input.Price != nil && input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	quantity, reserved := rec.Quantity, rec.ReservedQuantity
	if input.Quantity != nil {
		quantity = *input.Quantity
	}
	if input.ReservedQuantity != nil {
		reserved = *input.ReservedQuantity
	}
	if err := checkQuantities(rec.Kind, quantity, reserved); err != nil {
		return nil, err
	}
	if input.Price != nil {
		rounded := input.Price.Round(2)
		input.Price = &rounded
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).ApplyOperatorUpdate(ctx, id, input)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reserved quantity exceeds the current quantity")
		}
		_, err = s.sync.Enqueue(ctx, tx, id, enums.SyncActionUpdate)
		return err
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update inventory record")
	}
	return s.Get(ctx, id)
}

// RequestDelete schedules removal of the remote listing. The local record is
// kept and marked deleted once the push completes.
func (s *service) RequestDelete(ctx context.Context, id uuid.UUID) error {
	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if rec.RemoteStatus == enums.RemoteStatusDeleted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "listing already removed from the remote catalog")
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.sync.Enqueue(ctx, tx, id, enums.SyncActionDelete)
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue delete")
	}
	return nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.InventoryRecord, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory record")
	}
	return rec, nil
}

func checkQuantities(kind enums.ItemKind, quantity, reserved int) error {
	if quantity < 0 || reserved < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantities must not be negative")
	}
	if reserved > quantity {
		return pkgerrors.New(pkgerrors.CodeValidation, "reserved_quantity must not exceed quantity")
	}
	if kind == enums.ItemKindGraded && quantity > 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "graded items hold at most one unit")
	}
	return nil
}
