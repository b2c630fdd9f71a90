package api

import (
	"github.com/ayo6706/stablecoin-gateway/internal/api/handler"
	"github.com/ayo6706/stablecoin-gateway/internal/api/middleware"
	"github.com/ayo6706/stablecoin-gateway/internal/api/spec"
	"github.com/ayo6706/stablecoin-gateway/internal/config"
	"github.com/ayo6706/stablecoin-gateway/internal/idempotency"
	"github.com/ayo6706/stablecoin-gateway/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups the domain services the HTTP layer exposes.
type Services struct {
	Deposits    *service.DepositService
	Withdrawals *service.WithdrawalService
	Ledger      *service.LedgerService
	Settings    *service.SettingsService
}

type Router struct {
	cfg      *config.Config
	logger   *zap.Logger
	auth     *middleware.Authenticator
	health   *handler.HealthHandler
	idem     *middleware.Idempotency
	services Services
}

// NewRouter wires handlers to their services. redis may be nil.
func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, idemStore *idempotency.Store, redis redis.Cmdable, services Services) *Router {
	checks := []handler.Check{handler.PingCheck("database", db)}
	if redis != nil {
		checks = append(checks, handler.RedisCheck(redis))
	}
	return &Router{
		cfg:      cfg,
		logger:   logger,
		auth:     middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		health:   handler.NewHealthHandler(checks...),
		idem:     middleware.NewIdempotency(idemStore, logger),
		services: services,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(api.logger))
	r.Use(middleware.Recoverer(api.logger))

	deposits := handler.NewDepositHandler(api.services.Deposits)
	withdrawals := handler.NewWithdrawalHandler(api.services.Withdrawals)
	ledger := handler.NewLedgerHandler(api.services.Ledger)
	settings := handler.NewSettingsHandler(api.services.Settings)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(api.cfg.PublicRateLimitRPS))
		r.Get("/health/live", api.health.Live)
		r.Get("/health/ready", api.health.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.Handler())
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})

	r.Group(func(r chi.Router) {
		r.Use(api.auth.Middleware)
		r.Use(middleware.RateLimit(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/deposit-address", deposits.GetAddress)
		r.Post("/v1/deposit-address", deposits.CreateAddress)
		r.Post("/v1/deposits", deposits.StartSweep)

		r.Get("/v1/ledger", ledger.ListEntries)
		r.Get("/v1/ledger/{id}", ledger.GetEntry)

		r.With(api.idem.Handler).Post("/v1/withdrawals", withdrawals.Create)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Post("/withdrawals/{id}/settle", withdrawals.Settle)
			r.Post("/withdrawals/{id}/cancel", withdrawals.Cancel)
			r.Get("/ledger/{id}/history", ledger.History)
			r.Get("/settings", settings.Get)
			r.With(api.idem.Handler).Put("/settings", settings.Update)
		})
	})

	return r
}
