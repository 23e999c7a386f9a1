package shopifywebhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/internal/ledger"
	"github.com/angelmondragon/cardsync-backend/internal/retryjobs"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
	"github.com/angelmondragon/cardsync-backend/pkg/metrics"
)

// Outcome is what a delivery did once it was accepted.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
)

// Delivery is one verified webhook request.
type Delivery struct {
	EventID    string
	Topic      string
	ShopDomain string
	Body       []byte
}

// Service applies verified deliveries to local inventory.
type Service interface {
	Handle(ctx context.Context, d Delivery) (Outcome, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type storeResolver interface {
	Resolve(ctx context.Context, shopDomain string) (*stores.StoreContext, error)
}

type retryEnqueuer interface {
	Enqueue(ctx context.Context, tx *gorm.DB, jobType enums.RetryJobType, targetKey string, payload retryjobs.Payload) (*models.RetryJob, error)
}

// ServiceParams groups the dependencies for the webhook service.
type ServiceParams struct {
	Logger  *logger.Logger
	Ledger  ledger.Service
	Records inventory.Repository
	Stores  storeResolver
	Retry   retryEnqueuer
	Tx      txRunner
	Metrics *metrics.WebhookMetrics
	Now     func() time.Time
}

type service struct {
	logg    *logger.Logger
	ledger  ledger.Service
	records inventory.Repository
	stores  storeResolver
	retry   retryEnqueuer
	tx      txRunner
	metrics *metrics.WebhookMetrics
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger service is required")
	}
	if params.Records == nil {
		return nil, errors.New("inventory repository is required")
	}
	if params.Stores == nil {
		return nil, errors.New("store resolver is required")
	}
	if params.Retry == nil {
		return nil, errors.New("retry job enqueuer is required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		logg:    params.Logger,
		ledger:  params.Ledger,
		records: params.Records,
		stores:  params.Stores,
		retry:   params.Retry,
		tx:      params.Tx,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

// Handle records the delivery in the ledger and applies it in the same
// transaction. A returned error means nothing was committed and the sender
// should retry; every other outcome is acknowledged.
func (s *service) Handle(ctx context.Context, d Delivery) (Outcome, error) {
	kind := Classify(d.Topic)
	ctx = s.logg.WithEvent(ctx, d.EventID, d.Topic)
	ctx = s.logg.WithShopDomain(ctx, d.ShopDomain)

	if strings.TrimSpace(d.EventID) == "" || strings.TrimSpace(d.Topic) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "event id and topic are required")
	}

	store, err := s.stores.Resolve(ctx, d.ShopDomain)
	if err != nil {
		s.metrics.Observe(kind.String(), "error")
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve store")
	}

	outcome := OutcomeNoop
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		isNew, err := s.ledger.WithTx(tx).RecordIfNew(ctx, ledger.RecordInput{
			EventID:    d.EventID,
			Topic:      d.Topic,
			ShopDomain: d.ShopDomain,
			Payload:    d.Body,
		})
		if err != nil {
			return err
		}
		if !isNew {
			outcome = OutcomeDuplicate
			return nil
		}
		if store == nil {
			s.logg.Warn(ctx, "webhook for unknown shop ignored")
			return nil
		}

		run := &handlerRun{
			service: s,
			tx:      tx,
			records: s.records.WithTx(tx),
			store:   store,
			at:      s.now().UTC(),
		}
		outcome, err = run.dispatch(s.logg.WithStoreID(ctx, store.StoreID.String()), kind, d.Body)
		return err
	})
	if err != nil {
		s.metrics.Observe(kind.String(), "error")
		s.logg.Error(ctx, "webhook handling failed", err)
		if pkgerrors.HasCode(err, pkgerrors.CodeInternal) {
			return "", pkgerrors.As(err)
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply webhook")
	}

	s.metrics.Observe(kind.String(), string(outcome))
	return outcome, nil
}
