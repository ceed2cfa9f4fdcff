package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/resellerd/internal/bootstrap"
	"github.com/creamcroissant/resellerd/internal/config"
	"github.com/creamcroissant/resellerd/internal/entitlement"
	"github.com/creamcroissant/resellerd/internal/migrations"
)

const oneShotTimeout = 30 * time.Minute

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one entitlement enforcement sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
		defer cancel()

		summary, err := a.enforcer.EnforceAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d suspended=%d reactivated=%d remote_failures=%d\n",
			summary.Scanned, summary.Suspended, summary.Reactivated, summary.RemoteFailures)
		return nil
	},
}

var walletSweepCmd = &cobra.Command{
	Use:   "wallet-sweep",
	Short: "Run one wallet charge sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
		defer cancel()

		summary, err := a.biller.ChargeAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d charged=%d total_cost=%d suspended=%d\n",
			summary.Scanned, summary.Charged, summary.TotalCost, summary.Suspended)
		return nil
	},
}

var reenableCmd = &cobra.Command{
	Use:   "reenable <reseller-id>",
	Short: "Reactivate a suspended reseller inline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid reseller id %q", args[0])
		}
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
		defer cancel()

		return a.enforcer.ReactivateReseller(ctx, id, entitlement.ModeInline)
	},
}

var syncUsageCmd = &cobra.Command{
	Use:   "sync-usage <config-id>",
	Short: "Pull the remote usage counter for one config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid config id %q", args[0])
		}
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
		defer cancel()

		usage, err := a.usageSync.SyncConfig(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("usage_bytes=%d\n", usage)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Run database migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := bootstrap.OpenSQLite(cfg.DB.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		switch args[0] {
		case "up":
			return migrations.Up(db)
		case "down":
			return migrations.Down(db)
		default:
			return migrations.Status(db)
		}
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd, walletSweepCmd, reenableCmd, syncUsageCmd, migrateCmd)
}
