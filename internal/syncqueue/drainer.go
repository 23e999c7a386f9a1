package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/pkg/backoff"
	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
	"github.com/angelmondragon/cardsync-backend/pkg/metrics"
	"github.com/angelmondragon/cardsync-backend/pkg/shopify"
)

const (
	defaultBatchSize   = 25
	defaultPollMs      = 1000
	defaultBackoffBase = 30 * time.Second
	defaultBackoffMax  = 30 * time.Minute
	maxLoopBackoff     = 30 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

// Remote is the slice of the Shopify client the drainer pushes through.
type Remote interface {
	CreateProduct(ctx context.Context, shop string, in shopify.ProductInput) (shopify.ProductRef, error)
	UpdateProduct(ctx context.Context, shop string, ref shopify.ProductRef, in shopify.ProductInput) error
	DeleteProduct(ctx context.Context, shop, productID string) error
	SetInventoryLevel(ctx context.Context, shop, inventoryItemID, locationID string, available int) error
}

// RateGovernor gates outbound calls per shop.
type RateGovernor interface {
	Allow(service string) error
	TryAcquire(service string) bool
	ReleaseTrial(service string)
	Delay(service string) time.Duration
	RecordSuccess(service string)
	RecordFailure(service string)
	ObserveRateLimit(service string, retryAfter time.Duration)
}

type storeLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*stores.StoreDTO, error)
}

// DrainerParams groups the drainer dependencies.
type DrainerParams struct {
	Config   config.SyncQueueConfig
	Logger   *logger.Logger
	Repo     Repository
	Records  inventory.Repository
	Stores   storeLookup
	Remote   Remote
	Governor RateGovernor
	Tx       txRunner
	Metrics  *metrics.SyncMetrics
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Drainer pushes queued local mutations to the remote catalog.
type Drainer struct {
	logg         *logger.Logger
	repo         Repository
	records      inventory.Repository
	stores       storeLookup
	remote       Remote
	governor     RateGovernor
	tx           txRunner
	metrics      *metrics.SyncMetrics
	now          func() time.Time
	sleepFn      func(ctx context.Context, d time.Duration) error
	batchSize    int
	maxAttempts  int
	backoffBase  time.Duration
	backoffMax   time.Duration
	pollInterval time.Duration
}

func NewDrainer(params DrainerParams) (*Drainer, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repo == nil {
		return nil, errors.New("sync queue repository is required")
	}
	if params.Records == nil {
		return nil, errors.New("inventory repository is required")
	}
	if params.Stores == nil {
		return nil, errors.New("store lookup is required")
	}
	if params.Remote == nil {
		return nil, errors.New("remote client is required")
	}
	if params.Governor == nil {
		return nil, errors.New("governor is required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner is required")
	}

	cfg := params.Config
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := cfg.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = defaultBackoffMax
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	sleepFn := params.Sleep
	if sleepFn == nil {
		sleepFn = sleep
	}

	return &Drainer{
		logg:         params.Logger,
		repo:         params.Repo,
		records:      params.Records,
		stores:       params.Stores,
		remote:       params.Remote,
		governor:     params.Governor,
		tx:           params.Tx,
		metrics:      params.Metrics,
		now:          now,
		sleepFn:      sleepFn,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		backoffBase:  base,
		backoffMax:   max,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

// Run drains the queue until ctx is cancelled. A full batch is followed
// immediately by the next one; otherwise the loop waits one poll interval.
func (d *Drainer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	interval := d.pollInterval
	wait := interval

	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "sync drainer context canceled")
			return ctx.Err()
		default:
		}

		processed, err := d.ProcessBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			d.logg.Error(ctx, "sync drainer batch error", err)
			wait = nextBackoff(wait, interval, maxLoopBackoff)
			if err := sleep(ctx, withJitter(wait)); err != nil {
				return err
			}
			continue
		}

		wait = interval
		if processed >= d.batchSize {
			continue
		}
		if err := sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// ProcessBatch handles up to one batch of due entries and returns how many
// were pushed and settled. It stops early when the governor refuses a call.
func (d *Drainer) ProcessBatch(ctx context.Context) (int, error) {
	entries, err := d.repo.FetchDue(ctx, d.now().UTC(), d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch due sync entries: %w", err)
	}

	processed := 0
	for i := range entries {
		entry := entries[i]
		settled, stop, err := d.processEntry(ctx, &entry)
		if err != nil {
			return processed, err
		}
		if settled {
			processed++
		}
		if stop {
			break
		}
	}
	return processed, nil
}

func (d *Drainer) processEntry(ctx context.Context, entry *models.SyncQueueEntry) (settled, stop bool, err error) {
	claimed, err := d.repo.Claim(ctx, entry.ID, entry.InventoryRecordID, d.now().UTC())
	if err != nil {
		return false, false, fmt.Errorf("claim sync entry %s: %w", entry.ID, err)
	}
	if !claimed {
		return false, false, nil
	}

	fields := entryFields(entry)
	ctx = d.logg.WithFields(ctx, fields)

	rec, err := d.records.FindByID(ctx, entry.InventoryRecordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, false, d.failTerminal(ctx, entry, nil, errors.New("inventory record not found"))
		}
		return false, false, d.releaseWith(ctx, entry, fmt.Errorf("load inventory record: %w", err))
	}

	store, err := d.stores.GetByID(ctx, rec.StoreID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return true, false, d.failTerminal(ctx, entry, rec, errors.New("store not found"))
		}
		return false, false, d.releaseWith(ctx, entry, fmt.Errorf("load store: %w", err))
	}
	if !store.Active {
		return true, false, d.failTerminal(ctx, entry, rec, errors.New("store is inactive"))
	}
	shop := store.ShopDomain

	if err := d.governor.Allow(shop); err != nil {
		d.logg.Warn(ctx, "circuit open, sync batch stopped")
		d.metrics.Observe(string(entry.Action), "circuit_open")
		return false, true, d.releaseWith(ctx, entry, nil)
	}
	if !d.governor.TryAcquire(shop) {
		d.governor.ReleaseTrial(shop)
		d.logg.Warn(ctx, "rate budget exhausted, sync batch stopped")
		d.metrics.Observe(string(entry.Action), "throttled")
		return false, true, d.releaseWith(ctx, entry, nil)
	}
	if err := d.sleepFn(ctx, d.governor.Delay(shop)); err != nil {
		d.governor.ReleaseTrial(shop)
		return false, true, d.releaseWith(ctx, entry, err)
	}

	ref, pushErr := d.push(ctx, shop, entry.Action, rec)
	if pushErr != nil && ctx.Err() != nil {
		return false, true, d.releaseWith(ctx, entry, ctx.Err())
	}
	return true, false, d.settle(ctx, shop, entry, rec, ref, pushErr)
}

// push performs the remote calls for one entry. The record is read when the
// entry runs, so coalesced updates push the latest state.
func (d *Drainer) push(ctx context.Context, shop string, action enums.SyncAction, rec *models.InventoryRecord) (*inventory.RemoteRef, error) {
	switch action {
	case enums.SyncActionDelete:
		if rec.RemoteProductID == nil {
			return nil, nil
		}
		return nil, d.remote.DeleteProduct(ctx, shop, *rec.RemoteProductID)
	case enums.SyncActionCreate, enums.SyncActionUpdate:
		if rec.RemoteStatus == enums.RemoteStatusDeleted && action == enums.SyncActionUpdate {
			return nil, nil
		}
		input := shopify.ProductInput{
			Title: rec.Title,
			SKU:   rec.SKU,
			Price: rec.Price,
		}
		ref := remoteRefOf(rec)
		if ref.ProductID == "" {
			created, err := d.remote.CreateProduct(ctx, shop, input)
			if err != nil {
				return nil, err
			}
			ref = created
			attached := inventory.RemoteRef{
				ProductID:       created.ProductID,
				VariantID:       created.VariantID,
				InventoryItemID: created.InventoryItemID,
			}
			// persisted before any further call so a retry updates instead of duplicating
			if err := d.records.AttachRemote(ctx, rec.ID, attached); err != nil {
				return nil, fmt.Errorf("attach remote ids: %w", err)
			}
		} else if err := d.remote.UpdateProduct(ctx, shop, ref, input); err != nil {
			return nil, err
		}
		if ref.InventoryItemID != "" && rec.LocationID != "" {
			if err := d.remote.SetInventoryLevel(ctx, shop, ref.InventoryItemID, rec.LocationID, rec.Available()); err != nil {
				return nil, err
			}
		}
		return &inventory.RemoteRef{
			ProductID:       ref.ProductID,
			VariantID:       ref.VariantID,
			InventoryItemID: ref.InventoryItemID,
		}, nil
	default:
		return nil, shopifyTerminal(fmt.Errorf("unsupported sync action %q", action))
	}
}

func (d *Drainer) settle(ctx context.Context, shop string, entry *models.SyncQueueEntry, rec *models.InventoryRecord, ref *inventory.RemoteRef, pushErr error) error {
	now := d.now().UTC()
	action := string(entry.Action)

	if pushErr == nil {
		d.governor.RecordSuccess(shop)
		err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := d.repo.WithTx(tx).Complete(ctx, entry.ID, now)
			if err != nil || !ok {
				return err
			}
			records := d.records.WithTx(tx)
			if entry.Action == enums.SyncActionDelete {
				if _, err := records.MarkRemoteDeleted(ctx, rec.ID, now); err != nil {
					return err
				}
			}
			return records.MarkSynced(ctx, rec.ID, ref)
		})
		if err != nil {
			return fmt.Errorf("complete sync entry %s: %w", entry.ID, err)
		}
		d.metrics.Observe(action, "completed")
		d.logg.Info(ctx, "sync entry completed")
		return nil
	}

	if retryAfter, ok := shopify.AsRateLimit(pushErr); ok {
		d.governor.RecordSuccess(shop)
		d.governor.ObserveRateLimit(shop, retryAfter)
		if _, err := d.repo.DeferRateLimited(ctx, entry.ID, now.Add(retryAfter), pushErr.Error()); err != nil {
			return fmt.Errorf("defer rate limited entry %s: %w", entry.ID, err)
		}
		d.metrics.Observe(action, "rate_limited")
		d.logg.Warn(d.logg.WithField(ctx, "retry_after", retryAfter.String()), "sync entry rate limited")
		return nil
	}

	attempts := entry.AttemptCount + 1
	if shopify.IsTerminal(pushErr) {
		d.governor.RecordSuccess(shop)
		return d.fail(ctx, entry, rec, attempts, pushErr)
	}

	d.governor.RecordFailure(shop)
	maxAttempts := entry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.maxAttempts
	}
	if attempts >= maxAttempts {
		return d.fail(ctx, entry, rec, attempts, fmt.Errorf("max attempts reached: %w", pushErr))
	}

	next := now.Add(backoff.Delay(d.backoffBase, d.backoffMax, attempts))
	if _, err := d.repo.Retry(ctx, entry.ID, attempts, next, pushErr.Error()); err != nil {
		return fmt.Errorf("retry sync entry %s: %w", entry.ID, err)
	}
	d.metrics.Observe(action, "retried")
	retryCtx := d.logg.WithFields(ctx, map[string]any{
		"attempt_count":   attempts,
		"next_attempt_at": next.Format(time.RFC3339),
		"error":           pushErr.Error(),
	})
	d.logg.Warn(retryCtx, "sync push failed, will retry")
	return nil
}

func (d *Drainer) failTerminal(ctx context.Context, entry *models.SyncQueueEntry, rec *models.InventoryRecord, cause error) error {
	return d.fail(ctx, entry, rec, entry.AttemptCount, cause)
}

// fail moves the entry to failed once; the record is flagged only by the
// transition that actually happened.
func (d *Drainer) fail(ctx context.Context, entry *models.SyncQueueEntry, rec *models.InventoryRecord, attempts int, cause error) error {
	message := cause.Error()
	var failed bool
	err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := d.repo.WithTx(tx).Fail(ctx, entry.ID, attempts, message, d.now().UTC())
		if err != nil || !ok {
			return err
		}
		failed = true
		if rec == nil {
			return nil
		}
		return d.records.WithTx(tx).MarkSyncFailed(ctx, rec.ID, message)
	})
	if err != nil {
		return fmt.Errorf("fail sync entry %s: %w", entry.ID, err)
	}
	if !failed {
		d.logg.Warn(ctx, "sync entry was no longer processing, failure not recorded")
		return nil
	}
	d.metrics.Observe(string(entry.Action), "failed")
	d.logg.Error(ctx, "sync entry failed", cause)
	return nil
}

// releaseWith hands the entry back and returns cause. The release runs even
// when ctx is already cancelled.
func (d *Drainer) releaseWith(ctx context.Context, entry *models.SyncQueueEntry, cause error) error {
	if _, err := d.repo.Release(context.WithoutCancel(ctx), entry.ID); err != nil {
		return errors.Join(cause, fmt.Errorf("release sync entry %s: %w", entry.ID, err))
	}
	return cause
}

func remoteRefOf(rec *models.InventoryRecord) shopify.ProductRef {
	var ref shopify.ProductRef
	if rec.RemoteProductID != nil {
		ref.ProductID = *rec.RemoteProductID
	}
	if rec.RemoteVariantID != nil {
		ref.VariantID = *rec.RemoteVariantID
	}
	if rec.RemoteInventoryItemID != nil {
		ref.InventoryItemID = *rec.RemoteInventoryItemID
	}
	return ref
}

func shopifyTerminal(err error) error {
	return &shopify.APIError{StatusCode: 422, Body: err.Error()}
}

func entryFields(entry *models.SyncQueueEntry) map[string]any {
	fields := map[string]any{
		"sync_entry_id":       entry.ID.String(),
		"inventory_record_id": entry.InventoryRecordID.String(),
		"action":              string(entry.Action),
		"attempt_count":       entry.AttemptCount,
		"rate_limit_count":    entry.RateLimitCount,
	}
	if entry.LastError != nil {
		fields["last_error"] = *entry.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
