package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/cardsync-backend/api/responses"
	"github.com/angelmondragon/cardsync-backend/api/validators"
	"github.com/angelmondragon/cardsync-backend/internal/retryjobs"
	"github.com/angelmondragon/cardsync-backend/internal/syncqueue"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type SyncQueueService interface {
	ListFailed(ctx context.Context, limit int) ([]syncqueue.EntryDTO, error)
	Requeue(ctx context.Context, id uuid.UUID) (*syncqueue.EntryDTO, error)
}

type RetryJobService interface {
	ListDead(ctx context.Context, limit int) ([]retryjobs.JobDTO, error)
	Reopen(ctx context.Context, id uuid.UUID) (*retryjobs.JobDTO, error)
}

// AdminSyncQueueFailed lists sync entries that gave up.
func AdminSyncQueueFailed(svc SyncQueueService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.ListFailed(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

func AdminSyncQueueRequeue(svc SyncQueueService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Requeue(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entry)
	}
}

// AdminRetryJobsDead lists corrective jobs that exhausted their attempts.
func AdminRetryJobsDead(svc RetryJobService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "retry job service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobs, err := svc.ListDead(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, jobs)
	}
}

func AdminRetryJobRetry(svc RetryJobService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "retry job service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		job, err := svc.Reopen(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}
