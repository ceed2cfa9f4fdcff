// Package api assembles the trigger API: sweep triggers, reseller and config
// operations, health and metrics.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creamcroissant/resellerd/internal/api/handler"
	"github.com/creamcroissant/resellerd/internal/api/middleware"
	"github.com/creamcroissant/resellerd/internal/billing"
	"github.com/creamcroissant/resellerd/internal/config"
	"github.com/creamcroissant/resellerd/internal/entitlement"
	"github.com/creamcroissant/resellerd/internal/job"
	"github.com/creamcroissant/resellerd/internal/repository"
	"github.com/creamcroissant/resellerd/internal/service"
)

// Services bundles everything the router exposes.
type Services struct {
	Store     repository.Store
	Enforcer  *entitlement.Enforcer
	Biller    *billing.Biller
	Lifecycle *service.ConfigLifecycle
	UsageSync *service.UsageSync

	EnforcementJob *job.EnforcementSweepJob
	WalletJob      *job.WalletBillingJob
	UsageSyncJob   *job.UsageSyncJob
	ReconcileJob   *job.ReconcileJob
}

// NewRouter builds the chi router with logging, metrics and the v1 routes.
func NewRouter(cfg config.Config, services Services, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))

	if cfg.Metrics.Enabled {
		metricsCfg := middleware.DefaultMetricsConfig()
		if cfg.Metrics.Namespace != "" {
			metricsCfg.Namespace = cfg.Metrics.Namespace
		}
		r.Use(middleware.NewMetrics(metricsCfg).Middleware(metricsCfg))
		r.Method(http.MethodGet, "/metrics", metricsEndpoint(cfg.Metrics.Token))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	sweeps := &handler.SweepHandler{
		Enforcement: services.EnforcementJob,
		Wallet:      services.WalletJob,
		UsageSync:   services.UsageSyncJob,
		Reconcile:   services.ReconcileJob,
		Logger:      logger,
	}
	resellers := &handler.ResellerHandler{
		Enforcer: services.Enforcer,
		Biller:   services.Biller,
		Logger:   logger,
	}
	configs := &handler.ConfigHandler{
		Lifecycle: services.Lifecycle,
		UsageSync: services.UsageSync,
		Store:     services.Store,
		Logger:    logger,
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/sweeps", func(s chi.Router) {
			s.Post("/enforcement", sweeps.RunEnforcement)
			s.Post("/wallet", sweeps.RunWallet)
			s.Post("/usage-sync", sweeps.RunUsageSync)
			s.Post("/reconcile", sweeps.RunReconcile)
		})
		v1.Route("/resellers/{id}", func(rr chi.Router) {
			rr.Post("/reenable", resellers.Reenable)
			rr.Post("/wallet/credit", resellers.Credit)
		})
		v1.Route("/configs", func(c chi.Router) {
			c.Post("/", configs.Create)
			c.Route("/{id}", func(cc chi.Router) {
				cc.Delete("/", configs.Delete)
				cc.Post("/renew", configs.Renew)
				cc.Post("/sync-usage", configs.SyncUsage)
				cc.Get("/qr", configs.QR)
			})
		})
	})

	return r
}

// metricsEndpoint optionally gates the Prometheus scrape behind a bearer
// token.
func metricsEndpoint(token string) http.Handler {
	prom := promhttp.Handler()
	if token == "" {
		return prom
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		prom.ServeHTTP(w, r)
	})
}
