package main

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/creamcroissant/resellerd/internal/audit"
	"github.com/creamcroissant/resellerd/internal/billing"
	"github.com/creamcroissant/resellerd/internal/bootstrap"
	"github.com/creamcroissant/resellerd/internal/cache"
	"github.com/creamcroissant/resellerd/internal/config"
	"github.com/creamcroissant/resellerd/internal/entitlement"
	"github.com/creamcroissant/resellerd/internal/migrations"
	"github.com/creamcroissant/resellerd/internal/panel"
	"github.com/creamcroissant/resellerd/internal/provision"
	"github.com/creamcroissant/resellerd/internal/repository/sqlite"
	"github.com/creamcroissant/resellerd/internal/service"
	"github.com/creamcroissant/resellerd/internal/support/logging"
)

// app bundles the wired core shared by serve and the one-shot commands.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	db          *sql.DB
	store       *sqlite.Store
	cache       cache.Store
	provisioner *provision.Provisioner
	trail       *audit.Trail
	enforcer    *entitlement.Enforcer
	biller      *billing.Biller
	usageSync   *service.UsageSync
	reconciler  *service.Reconciler
	lifecycle   *service.ConfigLifecycle
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

// buildApp loads config, opens the database, runs migrations and wires the
// core services.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Options{
		Level:     cfg.Log.SlogLevel(),
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	db, err := bootstrap.OpenSQLite(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}

	store := sqlite.NewStore(db)
	cacheStore := cache.NewStore(cache.Options{
		DefaultTTL:      cfg.Jobs.LockTTL,
		CleanupInterval: time.Minute,
		Prefix:          "resellerd",
	})

	provisioner := provision.New(panel.NewRegistry(), provision.Config{
		MaxAttempts:   cfg.Provision.MaxAttempts,
		RetryInterval: cfg.Provision.RetryInterval,
		RatePerSecond: cfg.Provision.RatePerSecond,
		RateBurst:     cfg.Provision.RateBurst,
		PanelTimeout:  cfg.Panel.Timeout,
		DefaultPrefix: cfg.Panel.DefaultAccountPrefix,
	}, logger)

	trail := audit.NewTrail(store.AuditLogs(), store.ConfigEvents(), logger)
	enforcer := entitlement.New(store, provisioner, trail, cfg.Entitlement, logger)
	biller := billing.New(store, provisioner, trail, cfg.Billing, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		store:       store,
		cache:       cacheStore,
		provisioner: provisioner,
		trail:       trail,
		enforcer:    enforcer,
		biller:      biller,
		usageSync:   service.NewUsageSync(store, provisioner, logger),
		reconciler:  service.NewReconciler(store, provisioner, trail, logger),
		lifecycle:   service.NewConfigLifecycle(store, provisioner, trail, logger),
	}, nil
}
