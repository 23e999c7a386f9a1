package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func newTestRegistry(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	return registry
}

func TestRegistryKeepsRunOrder(t *testing.T) {
	recovery := &stubJob{name: "sync-queue-recovery"}
	retention := &stubJob{name: "inbound-event-retention"}
	registry := newTestRegistry(t, recovery, nil)
	require.NoError(t, registry.Register(nil))
	require.NoError(t, registry.Register(retention))

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, recovery, jobs[0])
	assert.Same(t, retention, jobs[1])

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0], "callers get a copy")
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(&stubJob{name: "retry-jobs"}, &stubJob{name: "retry-jobs"})
	assert.ErrorContains(t, err, `"retry-jobs" registered twice`)

	registry := newTestRegistry(t)
	assert.Error(t, registry.Register(&stubJob{}))
}
