package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/resellerd/internal/api"
	"github.com/creamcroissant/resellerd/internal/async"
	"github.com/creamcroissant/resellerd/internal/entitlement"
	"github.com/creamcroissant/resellerd/internal/job"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon: scheduler, reactivation queue and trigger API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	queue := async.NewReactivationQueue(64, 1, a.logger)
	queue.Start(ctx, func(ctx context.Context, resellerID int64) error {
		return a.enforcer.ReactivateReseller(ctx, resellerID, entitlement.ModeInline)
	})
	defer queue.Stop()
	a.enforcer.SetDispatcher(queue)

	lockTTL := a.cfg.Jobs.LockTTL
	enforcementJob := job.NewEnforcementSweepJob(a.enforcer, a.cache, lockTTL, a.logger)
	walletJob := job.NewWalletBillingJob(a.biller, a.cache, lockTTL, a.logger)
	usageSyncJob := job.NewUsageSyncJob(a.usageSync, a.cache, lockTTL, a.logger)
	reconcileJob := job.NewReconcileJob(a.reconciler, a.cache, lockTTL, a.logger)

	scheduler := job.NewScheduler(a.logger)
	registrations := []struct {
		spec     string
		runnable job.Runnable
	}{
		{a.cfg.Jobs.UsageSyncSpec, usageSyncJob},
		{a.cfg.Jobs.EnforcementSpec, enforcementJob},
		{a.cfg.Jobs.WalletSpec, walletJob},
		{a.cfg.Jobs.ReconcileSpec, reconcileJob},
	}
	for _, reg := range registrations {
		if _, err := scheduler.Register(reg.spec, reg.runnable); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	router := api.NewRouter(*a.cfg, api.Services{
		Store:          a.store,
		Enforcer:       a.enforcer,
		Biller:         a.biller,
		Lifecycle:      a.lifecycle,
		UsageSync:      a.usageSync,
		EnforcementJob: enforcementJob,
		WalletJob:      walletJob,
		UsageSyncJob:   usageSyncJob,
		ReconcileJob:   reconcileJob,
	}, a.logger)

	server := &http.Server{
		Addr:    a.cfg.HTTP.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("trigger api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
