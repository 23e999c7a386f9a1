package cron

import (
	"context"
	"fmt"
)

// Job is one step of the maintenance cycle, such as stale queue recovery or
// a retry job run.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps the cycle's jobs in run order. Recovery jobs are registered
// ahead of the jobs that drain what they recover. Names label metrics and
// must be unique.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

// NewRegistry registers jobs in order, skipping nil entries.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register appends job to the cycle. A nil job is ignored.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	if r.names == nil {
		r.names = map[string]struct{}{}
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("maintenance job name required")
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("maintenance job %q registered twice", name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the cycle in run order.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}
