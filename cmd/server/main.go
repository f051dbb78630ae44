package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vanshika/agriledger/backend/internal/app"
	"github.com/vanshika/agriledger/backend/internal/config"
	"github.com/vanshika/agriledger/backend/internal/logging"
	"github.com/vanshika/agriledger/backend/internal/metrics"
	"github.com/vanshika/agriledger/backend/internal/server"
	"github.com/vanshika/agriledger/backend/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	var m *metrics.Metrics
	if cfg.HTTP.MetricsEnabled {
		m = metrics.New()
	}

	application, err := app.Build(ctx, cfg, logger, m)
	if err != nil {
		logger.Error("failed to initialise ledger service", "error", err)
		os.Exit(1)
	}
	defer application.Close(context.Background())

	if cfg.Reconcile.OnStartup {
		go func() {
			reconciler := service.NewReconciler(application.Service, cfg.Reconcile.Workers, cfg.Reconcile.PendingTimeout)
			if _, err := reconciler.Run(ctx); err != nil {
				logger.Warn("startup reconciliation incomplete", "error", err)
			}
		}()
	}

	apiHandlers := server.NewAPIHandlers(logger, application.Service)

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           server.StoreHealthService{Store: application.Store},
		API:              apiHandlers,
		Metrics:          m,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	var origins []string
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
