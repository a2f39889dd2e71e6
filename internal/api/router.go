package api

import (
	"net/http"

	"github.com/ayo6706/deal-escrow/internal/api/handler"
	"github.com/ayo6706/deal-escrow/internal/api/middleware"
	"github.com/ayo6706/deal-escrow/internal/api/spec"
	"github.com/ayo6706/deal-escrow/internal/config"
	"github.com/ayo6706/deal-escrow/internal/idempotency"
	"github.com/ayo6706/deal-escrow/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// UserStore is the user directory the API reads actors from and syncs KYC
// verdicts into.
type UserStore interface {
	service.UserDirectory
	handler.UserWriter
}

type Router struct {
	cfg          *config.Config
	logger       *zap.Logger
	users        UserStore
	db           handler.Pinger
	idempotency  *idempotency.Store
	redis        redis.Cmdable
	orchestrator *service.Orchestrator
	dispatcher   *service.Dispatcher
}

// NewRouter wires the HTTP surface. db, idemStore and redisClient may be nil.
func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	users UserStore,
	db handler.Pinger,
	idemStore *idempotency.Store,
	redisClient redis.Cmdable,
	orchestrator *service.Orchestrator,
	dispatcher *service.Dispatcher,
) *Router {
	return &Router{
		cfg:          cfg,
		logger:       logger,
		users:        users,
		db:           db,
		idempotency:  idemStore,
		redis:        redisClient,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Handlers
	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	feeHandler := handler.NewFeeHandler(api.orchestrator)
	webhookHandler := handler.NewWebhookHandler(api.orchestrator, api.dispatcher, api.cfg.WebhookHMACKey, api.cfg.WebhookSkipSignature)
	dealHandler := handler.NewDealHandler(api.orchestrator, api.dispatcher)
	paymentHandler := handler.NewPaymentHandler(api.orchestrator, api.dispatcher)
	userHandler := handler.NewUserHandler(api.users)
	idem := middleware.IdempotencyMiddleware(api.idempotency, api.logger)

	// Operational
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/v1/fees/quote", feeHandler.Quote)
		r.Post("/v1/webhooks/gateway", webhookHandler.HandleGatewayWebhook)
		if api.cfg.StoreDriver == config.StoreDriverMemory {
			r.Post("/v1/auth/token", handler.NewAuthHandler(api.users).IssueToken)
		}
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Deals
		r.With(idem).Post("/v1/deals", dealHandler.CreateDeal)
		r.Route("/v1/deals/{id}", func(r chi.Router) {
			r.Get("/", dealHandler.GetDeal)
			r.Get("/actions/{action}", dealHandler.CanPerform)
			r.Post("/accept", dealHandler.Accept)
			r.Post("/refresh", dealHandler.Refresh)
			r.Post("/documents", dealHandler.UploadDocument)
			r.Post("/contract/sign", dealHandler.SignContract)
			r.Post("/reminders", dealHandler.SendReminder)
			r.With(idem).Post("/deposit", dealHandler.Deposit)
			r.Post("/delivery/start", dealHandler.StartDelivery)
			r.Post("/delivery/complete", dealHandler.MarkDelivered)
			r.Post("/confirm", dealHandler.ConfirmReceipt)
			r.Post("/dispute", dealHandler.RaiseDispute)
			r.Post("/cancel", dealHandler.Cancel)
			r.Post("/messages", dealHandler.AddMessage)
		})

		// Payments
		r.Get("/v1/payments/{id}", paymentHandler.GetPayment)

		// Admin
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Put("/users/{id}", userHandler.PutUser)
			r.Post("/deals/{id}/documents/{type}/verify", dealHandler.VerifyDocument)
			r.With(idem).Post("/deals/{id}/resolve", dealHandler.ResolveDispute)
			r.Post("/deals/{id}/release", dealHandler.Release)
			r.With(idem).Post("/payments/{id}/retry", paymentHandler.RetryPayment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "route/not-found", "route not found")
	})

	return r
}
