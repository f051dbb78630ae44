package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/agriledger/backend/internal/app"
	"github.com/vanshika/agriledger/backend/internal/config"
	"github.com/vanshika/agriledger/backend/internal/ledger"
	"github.com/vanshika/agriledger/backend/internal/logging"
	"github.com/vanshika/agriledger/backend/internal/repository"
	"github.com/vanshika/agriledger/backend/internal/service"
)

var (
	workers        int
	pendingTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-drive transactions left pending",
	Long:  "Queries the ledger for every pending transaction and applies the settled outcome. In simulation mode pending records are resubmitted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cmd.Flags().Changed("workers") {
			cfg.Reconcile.Workers = workers
		}
		if cmd.Flags().Changed("pending-timeout") {
			cfg.Reconcile.PendingTimeout = pendingTimeout
		}

		logger := logging.New(cfg.Logging).With("component", "reconcile")

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		application, err := app.Build(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer application.Close(context.Background())

		start := time.Now()
		report, err := service.NewReconciler(application.Service, cfg.Reconcile.Workers, cfg.Reconcile.PendingTimeout).Run(ctx)
		logger.Info("reconcile complete",
			"duration", time.Since(start).String(),
			"scanned", report.Scanned,
			"confirmed", report.Confirmed,
			"failed", report.Failed,
			"resubmitted", report.Resubmitted,
		)
		if err != nil {
			return err
		}

		// Close cancels unsettled simulated submissions, so let them land first.
		if application.Ledger.Mode() == ledger.ModeSimulated && report.Resubmitted > 0 {
			select {
			case <-time.After(cfg.Ledger.SimulationDelay + time.Second):
			case <-ctx.Done():
			}
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the transaction table migrations to DATABASE_URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := repository.OpenPostgres(cmd.Context(), cfg.Database.URL, 1)
		if err != nil {
			return err
		}
		defer db.Close()
		return repository.MigratePostgres(db)
	},
}

func init() {
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 4, "number of concurrent reconcile workers")
	rootCmd.Flags().DurationVar(&pendingTimeout, "pending-timeout", 15*time.Minute, "fail connected-mode records pending longer than this (0 disables)")
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
