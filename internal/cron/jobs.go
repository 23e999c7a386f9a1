package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/cardsync-backend/internal/retryjobs"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
)

const (
	JobRetryJobs             = "retry-jobs"
	JobSyncQueueRecovery     = "sync-queue-recovery"
	JobRetryJobsRecovery     = "retry-jobs-recovery"
	JobInboundEventRetention = "inbound-event-retention"
)

type retryRunner interface {
	RunDue(ctx context.Context) (retryjobs.RunSummary, error)
}

type staleSyncRecoverer interface {
	RecoverStale(ctx context.Context) (int64, error)
}

type stuckJobRecoverer interface {
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

type eventPurger interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// NewRetryJobsJob runs due corrective jobs against the remote.
func NewRetryJobsJob(logg *logger.Logger, runner retryRunner) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil {
		return nil, fmt.Errorf("retry job runner required")
	}
	return &retryJobsJob{logg: logg, runner: runner}, nil
}

type retryJobsJob struct {
	logg   *logger.Logger
	runner retryRunner
}

func (j *retryJobsJob) Name() string { return JobRetryJobs }

func (j *retryJobsJob) Run(ctx context.Context) error {
	summary, err := j.runner.RunDue(ctx)
	if err != nil {
		return fmt.Errorf("run due retry jobs: %w", err)
	}
	if summary.Claimed == 0 {
		return nil
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"claimed":  summary.Claimed,
		"done":     summary.Done,
		"retried":  summary.Retried,
		"deferred": summary.Deferred,
		"dead":     summary.Dead,
		"stopped":  summary.Stopped,
	}), "retry jobs pass complete")
	return nil
}

// NewSyncQueueRecoveryJob returns sync entries stuck in processing to the queue.
func NewSyncQueueRecoveryJob(logg *logger.Logger, recoverer staleSyncRecoverer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if recoverer == nil {
		return nil, fmt.Errorf("sync queue recoverer required")
	}
	return &recoveryJob{
		name: JobSyncQueueRecovery,
		logg: logg,
		run:  recoverer.RecoverStale,
	}, nil
}

// NewRetryJobsRecoveryJob requeues retry jobs left running by a dead worker.
// Zero stuckAfter falls back to the retry service's configured timeout.
func NewRetryJobsRecoveryJob(logg *logger.Logger, recoverer stuckJobRecoverer, stuckAfter time.Duration) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if recoverer == nil {
		return nil, fmt.Errorf("retry job recoverer required")
	}
	return &recoveryJob{
		name: JobRetryJobsRecovery,
		logg: logg,
		run: func(ctx context.Context) (int64, error) {
			return recoverer.RecoverStuck(ctx, stuckAfter)
		},
	}, nil
}

type recoveryJob struct {
	name string
	logg *logger.Logger
	run  func(ctx context.Context) (int64, error)
}

func (j *recoveryJob) Name() string { return j.name }

func (j *recoveryJob) Run(ctx context.Context) error {
	recovered, err := j.run(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "recovered", recovered), "abandoned work returned to queue")
	}
	return nil
}

// NewInboundEventRetentionJob purges ledger receipts older than retentionDays.
// A non-positive retention keeps receipts forever and the job is a no-op.
func NewInboundEventRetentionJob(logg *logger.Logger, purger eventPurger, retentionDays int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if purger == nil {
		return nil, fmt.Errorf("ledger purger required")
	}
	return &retentionJob{logg: logg, purger: purger, retentionDays: retentionDays}, nil
}

type retentionJob struct {
	logg          *logger.Logger
	purger        eventPurger
	retentionDays int
}

func (j *retentionJob) Name() string { return JobInboundEventRetention }

func (j *retentionJob) Run(ctx context.Context) error {
	if j.retentionDays <= 0 {
		return nil
	}
	retention := time.Duration(j.retentionDays) * 24 * time.Hour
	deleted, err := j.purger.PurgeOlderThan(ctx, retention)
	if err != nil {
		return fmt.Errorf("inbound event retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"retention_days": j.retentionDays,
		"rows_deleted":   deleted,
	}), "inbound event retention cleanup complete")
	return nil
}
