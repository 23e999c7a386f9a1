package retryjobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

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
	defaultBatchSize   = 50
	defaultMaxAttempts = 8
	defaultBackoffBase = time.Minute
	defaultBackoffMax  = 6 * time.Hour
	defaultStuckAfter  = 15 * time.Minute
	defaultListLimit   = 100
	maxListLimit       = 500
)

var errUnknownJobType = errors.New("unknown retry job type")

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

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service enqueues and runs corrective remote actions.
type Service interface {
	Enqueue(ctx context.Context, tx *gorm.DB, jobType enums.RetryJobType, targetKey string, payload Payload) (*models.RetryJob, error)
	RunDue(ctx context.Context) (RunSummary, error)
	ListDead(ctx context.Context, limit int) ([]JobDTO, error)
	Reopen(ctx context.Context, id uuid.UUID) (*JobDTO, error)
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunSummary counts what one RunDue pass did.
type RunSummary struct {
	Claimed  int
	Done     int
	Retried  int
	Deferred int
	Dead     int
	Stopped  bool
}

// ServiceParams groups the service dependencies. Remote, Governor and Stores
// are only needed to run jobs; producers may leave them nil.
type ServiceParams struct {
	Config   config.RetryJobsConfig
	Logger   *logger.Logger
	Repo     Repository
	Tx       txRunner
	Records  recordLookup
	Stores   storeLookup
	Remote   Remote
	Governor RateGovernor
	Metrics  *metrics.RetryJobMetrics
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

type service struct {
	logg        *logger.Logger
	repo        Repository
	tx          txRunner
	records     recordLookup
	stores      storeLookup
	remote      Remote
	governor    RateGovernor
	metrics     *metrics.RetryJobMetrics
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	batchSize   int
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	stuckAfter  time.Duration
}

func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("retry job repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	cfg := params.Config
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
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
	stuck := cfg.StuckAfter
	if stuck <= 0 {
		stuck = defaultStuckAfter
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	sleepFn := params.Sleep
	if sleepFn == nil {
		sleepFn = sleep
	}
	return &service{
		logg:        params.Logger,
		repo:        params.Repo,
		tx:          params.Tx,
		records:     params.Records,
		stores:      params.Stores,
		remote:      params.Remote,
		governor:    params.Governor,
		metrics:     params.Metrics,
		now:         now,
		sleep:       sleepFn,
		batchSize:   batch,
		maxAttempts: maxAttempts,
		backoffBase: base,
		backoffMax:  max,
		stuckAfter:  stuck,
	}, nil
}

// Enqueue registers a job for (jobType, targetKey) inside tx. An existing
// queued, running or dead job is returned unchanged; a done one is reopened.
func (s *service) Enqueue(ctx context.Context, tx *gorm.DB, jobType enums.RetryJobType, targetKey string, payload Payload) (*models.RetryJob, error) {
	targetKey = strings.TrimSpace(targetKey)
	if targetKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target key is required")
	}
	if !jobType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid retry job type %q", jobType))
	}
	if err := payload.validate(jobType); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid retry job payload")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	job := &models.RetryJob{
		ID:          uuid.New(),
		JobType:     jobType,
		TargetKey:   targetKey,
		Payload:     raw,
		MaxAttempts: s.maxAttempts,
		NextRunAt:   now,
		Status:      enums.RetryJobQueued,
	}
	inserted, err := repo.InsertIfAbsent(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("insert retry job: %w", err)
	}
	if inserted {
		return job, nil
	}
	if _, err := repo.ReopenDone(ctx, jobType, targetKey, raw, s.maxAttempts, now); err != nil {
		return nil, fmt.Errorf("reopen retry job: %w", err)
	}
	existing, err := repo.FindByKey(ctx, jobType, targetKey)
	if err != nil {
		return nil, fmt.Errorf("load retry job: %w", err)
	}
	return existing, nil
}

// RunDue executes due jobs until the batch is exhausted or the governor
// refuses a call.
func (s *service) RunDue(ctx context.Context) (RunSummary, error) {
	var summary RunSummary
	if s.remote == nil || s.governor == nil || s.stores == nil || s.records == nil {
		return summary, fmt.Errorf("retry job runner is not configured")
	}
	jobs, err := s.repo.FetchDue(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return summary, fmt.Errorf("fetch due retry jobs: %w", err)
	}
	for i := range jobs {
		job := jobs[i]
		claimed, err := s.repo.Claim(ctx, job.ID, s.now().UTC())
		if err != nil {
			return summary, fmt.Errorf("claim retry job %s: %w", job.ID, err)
		}
		if !claimed {
			continue
		}
		summary.Claimed++
		stop, err := s.runJob(ctx, &job, &summary)
		if err != nil {
			return summary, err
		}
		if stop {
			summary.Stopped = true
			break
		}
	}
	return summary, nil
}

func (s *service) runJob(ctx context.Context, job *models.RetryJob, summary *RunSummary) (bool, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"retry_job_id": job.ID.String(),
		"job_type":     string(job.JobType),
		"target_key":   job.TargetKey,
		"attempts":     job.Attempts,
	})

	payload, err := decodePayload(job)
	if err != nil {
		return false, s.kill(ctx, job, job.Attempts, err, summary)
	}
	store, err := s.stores.GetByID(ctx, payload.StoreID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return false, s.kill(ctx, job, job.Attempts, errors.New("store not found"), summary)
		}
		return false, s.release(ctx, job, fmt.Errorf("load store: %w", err))
	}
	shop := store.ShopDomain

	if err := s.governor.Allow(shop); err != nil {
		s.logg.Warn(ctx, "circuit open, retry jobs paused")
		s.metrics.Observe(string(job.JobType), "circuit_open")
		return true, s.release(ctx, job, nil)
	}
	if !s.governor.TryAcquire(shop) {
		s.governor.ReleaseTrial(shop)
		s.metrics.Observe(string(job.JobType), "throttled")
		return true, s.release(ctx, job, nil)
	}
	if err := s.sleep(ctx, s.governor.Delay(shop)); err != nil {
		s.governor.ReleaseTrial(shop)
		return true, s.release(ctx, job, err)
	}

	execErr := s.execute(ctx, shop, job.JobType, payload)
	if execErr != nil && ctx.Err() != nil {
		return true, s.release(ctx, job, ctx.Err())
	}
	return false, s.settle(ctx, shop, job, execErr, summary)
}

func (s *service) settle(ctx context.Context, shop string, job *models.RetryJob, execErr error, summary *RunSummary) error {
	now := s.now().UTC()
	jobType := string(job.JobType)

	if execErr == nil {
		s.governor.RecordSuccess(shop)
		if _, err := s.repo.Complete(ctx, job.ID, now); err != nil {
			return fmt.Errorf("complete retry job %s: %w", job.ID, err)
		}
		summary.Done++
		s.metrics.Observe(jobType, "done")
		s.logg.Info(ctx, "retry job done")
		return nil
	}

	if retryAfter, ok := shopify.AsRateLimit(execErr); ok {
		s.governor.RecordSuccess(shop)
		s.governor.ObserveRateLimit(shop, retryAfter)
		if _, err := s.repo.Defer(ctx, job.ID, now.Add(retryAfter), execErr.Error()); err != nil {
			return fmt.Errorf("defer retry job %s: %w", job.ID, err)
		}
		summary.Deferred++
		s.metrics.Observe(jobType, "rate_limited")
		return nil
	}

	attempts := job.Attempts + 1
	if shopify.IsTerminal(execErr) || errors.Is(execErr, errUnknownJobType) {
		s.governor.RecordSuccess(shop)
		return s.kill(ctx, job, attempts, execErr, summary)
	}

	s.governor.RecordFailure(shop)
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	if attempts >= maxAttempts {
		return s.kill(ctx, job, attempts, fmt.Errorf("max attempts reached: %w", execErr), summary)
	}
	next := now.Add(backoff.Delay(s.backoffBase, s.backoffMax, attempts))
	if _, err := s.repo.Retry(ctx, job.ID, attempts, next, execErr.Error()); err != nil {
		return fmt.Errorf("retry retry job %s: %w", job.ID, err)
	}
	summary.Retried++
	s.metrics.Observe(jobType, "retried")
	s.logg.Warn(s.logg.WithField(ctx, "error", execErr.Error()), "retry job failed, will retry")
	return nil
}

func (s *service) kill(ctx context.Context, job *models.RetryJob, attempts int, cause error, summary *RunSummary) error {
	killed, err := s.repo.Kill(ctx, job.ID, attempts, cause.Error(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("kill retry job %s: %w", job.ID, err)
	}
	if !killed {
		return nil
	}
	summary.Dead++
	s.metrics.Observe(string(job.JobType), "dead")
	s.logg.Error(ctx, "retry job is dead", cause)
	return nil
}

func (s *service) release(ctx context.Context, job *models.RetryJob, cause error) error {
	if _, err := s.repo.Release(context.WithoutCancel(ctx), job.ID); err != nil {
		return errors.Join(cause, fmt.Errorf("release retry job %s: %w", job.ID, err))
	}
	return cause
}

func (s *service) ListDead(ctx context.Context, limit int) ([]JobDTO, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.repo.ListByStatus(ctx, enums.RetryJobDead, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead retry jobs")
	}
	out := make([]JobDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

// Reopen gives a dead job a fresh attempt budget.
func (s *service) Reopen(ctx context.Context, id uuid.UUID) (*JobDTO, error) {
	var job *models.RetryJob
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "retry job not found")
			}
			return err
		}
		reopened, err := repo.Reopen(ctx, id, s.now().UTC())
		if err != nil {
			return err
		}
		if !reopened {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("job is %s, only dead jobs can be retried", current.Status))
		}
		job, err = repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reopen retry job")
	}
	return FromModel(job), nil
}

// RecoverStuck requeues running jobs older than olderThan; zero uses the
// configured timeout.
func (s *service) RecoverStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = s.stuckAfter
	}
	recovered, err := s.repo.RecoverStuck(ctx, s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("recover stuck retry jobs: %w", err)
	}
	return recovered, nil
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
