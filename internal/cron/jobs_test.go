package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/cardsync-backend/internal/retryjobs"
)

type fakeRetryRunner struct {
	summary retryjobs.RunSummary
	err     error
	calls   int
}

func (f *fakeRetryRunner) RunDue(context.Context) (retryjobs.RunSummary, error) {
	f.calls++
	return f.summary, f.err
}

type fakeRecoverer struct {
	recovered int64
	err       error
	olderThan time.Duration
	calls     int
}

func (f *fakeRecoverer) RecoverStale(context.Context) (int64, error) {
	f.calls++
	return f.recovered, f.err
}

func (f *fakeRecoverer) RecoverStuck(_ context.Context, olderThan time.Duration) (int64, error) {
	f.calls++
	f.olderThan = olderThan
	return f.recovered, f.err
}

type fakePurger struct {
	retention time.Duration
	calls     int
	err       error
}

func (f *fakePurger) PurgeOlderThan(_ context.Context, retention time.Duration) (int64, error) {
	f.calls++
	f.retention = retention
	return 3, f.err
}

func TestRetryJobsJobRunsDue(t *testing.T) {
	runner := &fakeRetryRunner{summary: retryjobs.RunSummary{Claimed: 2, Done: 1, Retried: 1}}
	job, err := NewRetryJobsJob(testLogger(), runner)
	require.NoError(t, err)
	assert.Equal(t, JobRetryJobs, job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, runner.calls)

	runner.err = errors.New("db down")
	assert.ErrorContains(t, job.Run(context.Background()), "db down")
}

func TestRecoveryJobs(t *testing.T) {
	sync := &fakeRecoverer{recovered: 2}
	syncJob, err := NewSyncQueueRecoveryJob(testLogger(), sync)
	require.NoError(t, err)
	assert.Equal(t, JobSyncQueueRecovery, syncJob.Name())
	require.NoError(t, syncJob.Run(context.Background()))
	assert.Equal(t, 1, sync.calls)

	retry := &fakeRecoverer{}
	retryJob, err := NewRetryJobsRecoveryJob(testLogger(), retry, 20*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, JobRetryJobsRecovery, retryJob.Name())
	require.NoError(t, retryJob.Run(context.Background()))
	assert.Equal(t, 20*time.Minute, retry.olderThan)

	retry.err = errors.New("boom")
	assert.Error(t, retryJob.Run(context.Background()))
}

func TestInboundEventRetentionJob(t *testing.T) {
	purger := &fakePurger{}
	job, err := NewInboundEventRetentionJob(testLogger(), purger, 90)
	require.NoError(t, err)
	assert.Equal(t, JobInboundEventRetention, job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 90*24*time.Hour, purger.retention)

	purger.err = errors.New("boom")
	assert.Error(t, job.Run(context.Background()))
}

func TestInboundEventRetentionDisabled(t *testing.T) {
	purger := &fakePurger{}
	job, err := NewInboundEventRetentionJob(testLogger(), purger, 0)
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, purger.calls)
}

func TestJobConstructorsRequireDependencies(t *testing.T) {
	_, err := NewRetryJobsJob(testLogger(), nil)
	assert.Error(t, err)
	_, err = NewSyncQueueRecoveryJob(nil, &fakeRecoverer{})
	assert.Error(t, err)
	_, err = NewRetryJobsRecoveryJob(testLogger(), nil, 0)
	assert.Error(t, err)
	_, err = NewInboundEventRetentionJob(testLogger(), nil, 30)
	assert.Error(t, err)
}
