package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/vanshika/agriledger/backend/internal/cache"
	"github.com/vanshika/agriledger/backend/internal/commerce"
	"github.com/vanshika/agriledger/backend/internal/config"
	"github.com/vanshika/agriledger/backend/internal/graph"
	"github.com/vanshika/agriledger/backend/internal/ledger"
	"github.com/vanshika/agriledger/backend/internal/metrics"
	"github.com/vanshika/agriledger/backend/internal/repository"
	"github.com/vanshika/agriledger/backend/internal/service"
)

// App holds the wired components shared by the server and the reconcile command.
type App struct {
	Store   repository.Store
	Ledger  ledger.Client
	Service *service.LedgerService
	Metrics *metrics.Metrics

	logger *slog.Logger
	db     *sql.DB
}

// Build opens the configured backends and wires the ledger service.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*App, error) {
	a := &App{Metrics: m, logger: logger}

	if cfg.Store.Driver == config.StoreDriverPostgres || cfg.Commerce.Driver == config.StoreDriverPostgres {
		db, err := repository.OpenPostgres(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, err
		}
		a.db = db
		if cfg.Database.AutoMigrate {
			if err := repository.MigratePostgres(db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
	}

	store, err := a.buildStore(ctx, cfg)
	if err != nil {
		a.closeDB()
		return nil, err
	}
	a.Store = store

	var updater commerce.Updater = commerce.NewRecorder()
	if cfg.Commerce.Driver == config.StoreDriverPostgres {
		updater = commerce.NewPostgresUpdater(a.db)
	}

	a.Ledger = ledger.Configure(ctx, logger, ledger.Options{
		Endpoint:        cfg.Ledger.Endpoint,
		Network:         cfg.Ledger.Network,
		Username:        cfg.Ledger.Username,
		Password:        cfg.Ledger.Password,
		APIKey:          cfg.Ledger.APIKey,
		RetryCount:      cfg.Ledger.RetryCount,
		SimulationDelay: cfg.Ledger.SimulationDelay,
	})

	a.Service = service.NewLedgerService(
		a.Store,
		cache.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval),
		a.Ledger,
		updater,
		logger,
		service.WithMetrics(m),
		service.WithTimeouts(service.Timeouts{
			Submit:  cfg.Ledger.SubmitTimeout,
			Confirm: cfg.Ledger.ConfirmTimeout,
			Query:   cfg.Ledger.QueryTimeout,
		}),
	)
	return a, nil
}

func (a *App) buildStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		return repository.NewPostgresStore(a.db), nil
	case config.StoreDriverNeo4j:
		if cfg.Graph.URI == "" {
			return nil, graph.ErrMissingURI
		}
		client, err := graph.NewNeo4jClient(ctx, graph.OptionsFromConfig(cfg.Graph))
		if err != nil {
			return nil, fmt.Errorf("create graph client: %w", err)
		}
		store := repository.NewGraphStore(client)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		return store, nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

// Close stops the ledger client and releases store connections.
func (a *App) Close(ctx context.Context) {
	if a.Ledger != nil {
		if err := a.Ledger.Close(ctx); err != nil {
			a.logger.Warn("closing ledger client failed", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(ctx); err != nil {
			a.logger.Warn("closing transaction store failed", "error", err)
		}
	}
	// The postgres store owns the pool when it is the store driver.
	if _, ok := a.Store.(*repository.PostgresStore); !ok {
		a.closeDB()
	}
}

func (a *App) closeDB() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database pool failed", "error", err)
	}
}
