package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cardsync-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/cardsync-backend/api/controllers/webhooks"
	"github.com/angelmondragon/cardsync-backend/api/middleware"
	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
)

// RouterParams carries everything the HTTP surface talks to. Nil services
// answer 500 on their routes rather than panicking.
type RouterParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        controllers.Pinger
	Redis     controllers.Pinger
	Gatherer  prometheus.Gatherer
	Webhooks  webhookcontrollers.ShopifyWebhookService
	Stores    stores.Service
	Inventory inventory.Service
	SyncQueue controllers.SyncQueueService
	RetryJobs controllers.RetryJobService
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/shopify", webhookcontrollers.ShopifyWebhook(p.Webhooks, cfg.Shopify.WebhookSecret, logg))
	})

	readers := middleware.RequireRole(logg, enums.OperatorRoleOperator, enums.OperatorRoleViewer)
	writers := middleware.RequireRole(logg, enums.OperatorRoleOperator)

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/stores", func(r chi.Router) {
			r.With(readers).Get("/", controllers.AdminStoreList(p.Stores, logg))
			r.With(writers).Post("/", controllers.AdminStoreRegister(p.Stores, logg))
			r.With(readers).Get("/{storeId}", controllers.AdminStoreGet(p.Stores, logg))
		})

		r.Route("/inventory", func(r chi.Router) {
			r.With(writers).Post("/", controllers.AdminInventoryCreate(p.Inventory, logg))
			r.With(readers).Get("/{recordId}", controllers.AdminInventoryGet(p.Inventory, logg))
			r.With(writers).Patch("/{recordId}", controllers.AdminInventoryUpdate(p.Inventory, logg))
			r.With(writers).Delete("/{recordId}", controllers.AdminInventoryDelete(p.Inventory, logg))
		})

		r.Route("/sync-queue", func(r chi.Router) {
			r.With(readers).Get("/failed", controllers.AdminSyncQueueFailed(p.SyncQueue, logg))
			r.With(writers).Post("/{entryId}/requeue", controllers.AdminSyncQueueRequeue(p.SyncQueue, logg))
		})

		r.Route("/retry-jobs", func(r chi.Router) {
			r.With(readers).Get("/dead", controllers.AdminRetryJobsDead(p.RetryJobs, logg))
			r.With(writers).Post("/{jobId}/retry", controllers.AdminRetryJobRetry(p.RetryJobs, logg))
		})
	})

	return r
}
