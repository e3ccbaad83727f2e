package api

import (
	"context"

	"github.com/ayo6706/author-payouts/internal/api/handler"
	"github.com/ayo6706/author-payouts/internal/api/middleware"
	"github.com/ayo6706/author-payouts/internal/api/spec"
	"github.com/ayo6706/author-payouts/internal/config"
	"github.com/ayo6706/author-payouts/internal/idempotency"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/ayo6706/author-payouts/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

type Router struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        *repository.Store
	idemStore    *idempotency.Store
	redis        redis.Cmdable
	batchSvc     *service.BatchService
	recipientSvc *service.RecipientService
	webhookSvc   *service.WebhookService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	store *repository.Store,
	idemStore *idempotency.Store,
	redis redis.Cmdable,
	batchSvc *service.BatchService,
	recipientSvc *service.RecipientService,
	webhookSvc *service.WebhookService,
) *Router {
	return &Router{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		idemStore:    idemStore,
		redis:        redis,
		batchSvc:     batchSvc,
		recipientSvc: recipientSvc,
		webhookSvc:   webhookSvc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	checks := []handler.DependencyCheck{{Name: "database", Ping: api.store.Ping}}
	if api.redis != nil {
		checks = append(checks, handler.DependencyCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return api.redis.Ping(ctx).Err()
		}})
	}
	healthHandler := handler.NewHealthHandler(checks...)
	batchHandler := handler.NewBatchHandler(api.batchSvc)
	recipientHandler := handler.NewRecipientHandler(api.recipientSvc)
	webhookHandler := handler.NewWebhookHandler(api.webhookSvc)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Provider callbacks authenticate by signature, not by token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/stripe", webhookHandler.HandleStripe)
		r.Post("/v1/webhooks/paystack", webhookHandler.HandlePaystack)
		r.Post("/v1/webhooks/generic", webhookHandler.HandleGeneric)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Batches
		r.With(middleware.RequireRole(middleware.RoleService), middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/batches", batchHandler.RegisterBatch)
		r.With(middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin)).
			Get("/v1/batches/{id}", batchHandler.GetBatch)
		r.With(middleware.RequireRole(middleware.RoleService)).
			Post("/v1/batches/{id}/paid", batchHandler.MarkPaid)
		r.With(middleware.RequireRole(middleware.RoleAdmin)).
			Post("/v1/batches/{id}/reconcile", batchHandler.Reconcile)

		// Recipients
		r.Route("/v1/recipients/{id}", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Put("/", recipientHandler.UpsertRecipient)
			r.Get("/", recipientHandler.GetRecipient)
		})
	})

	return r
}
