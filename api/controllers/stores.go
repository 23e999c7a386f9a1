package controllers

import (
	"net/http"

	"github.com/angelmondragon/cardsync-backend/api/responses"
	"github.com/angelmondragon/cardsync-backend/api/validators"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
)

type storeRegisterRequest struct {
	StoreKey          string `json:"store_key" validate:"required,max=64"`
	ShopDomain        string `json:"shop_domain" validate:"required,hostname"`
	DefaultLocationID string `json:"default_location_id" validate:"required,max=64"`
}

// AdminStoreRegister connects a Shopify shop to a store key.
func AdminStoreRegister(svc stores.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store service unavailable"))
			return
		}

		var req storeRegisterRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		store, err := svc.Register(r.Context(), stores.RegisterStoreInput{
			StoreKey:          req.StoreKey,
			ShopDomain:        req.ShopDomain,
			DefaultLocationID: req.DefaultLocationID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, store)
	}
}

func AdminStoreList(svc stores.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store service unavailable"))
			return
		}
		list, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func AdminStoreGet(svc stores.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		store, err := svc.GetByID(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, store)
	}
}
