package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP      HTTPConfig
	Logging   LoggingConfig
	Ledger    LedgerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Graph     GraphConfig
	Cache     CacheConfig
	Commerce  CommerceConfig
	Reconcile ReconcileConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MetricsEnabled    bool
	AllowedOriginsCSV string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

// LedgerConfig describes the external ledger gateway. An empty Endpoint selects simulation mode.
type LedgerConfig struct {
	Endpoint        string
	Network         string
	Username        string
	Password        string
	APIKey          string
	SubmitTimeout   time.Duration
	ConfirmTimeout  time.Duration
	QueryTimeout    time.Duration
	SimulationDelay time.Duration
	RetryCount      int
}

// StoreConfig selects the transaction store backend: memory, postgres or neo4j.
type StoreConfig struct {
	Driver string
}

// DatabaseConfig describes connectivity to the relational database.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
	AutoMigrate    bool
}

// GraphConfig describes connectivity to the graph database (Neo4j).
type GraphConfig struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// CacheConfig bounds the lifetime of in-process transaction cache entries.
type CacheConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// CommerceConfig selects where product and order side effects are written: memory or postgres.
type CommerceConfig struct {
	Driver string
}

// ReconcileConfig drives the pending-transaction reconciler.
type ReconcileConfig struct {
	OnStartup      bool
	Workers        int
	PendingTimeout time.Duration
}

const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
	StoreDriverNeo4j    = "neo4j"
)

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 45 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultSubmitTimeout    = 30 * time.Second
	defaultConfirmTimeout   = 30 * time.Second
	defaultQueryTimeout     = 10 * time.Second
	defaultSimulationDelay  = 2 * time.Second
	defaultRetryCount       = 2
	defaultDBMaxConnections = 10
	defaultGraphMaxSessions = 10
	defaultCacheTTL         = time.Hour
	defaultCacheCleanup     = 10 * time.Minute
	defaultReconcileWorkers = 4
	defaultPendingTimeout   = 15 * time.Minute
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	return load(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_HOST", defaultHost)
	v.SetDefault("SERVER_PORT", defaultPort)
	v.SetDefault("SERVER_METRICS_ENABLED", false)
	v.SetDefault("LOG_LEVEL", defaultLoggingLevel)
	v.SetDefault("LOG_FORMAT", defaultLoggingFormat)
	v.SetDefault("LOG_INCLUDE_CALLER", false)
	v.SetDefault("LEDGER_RETRY_COUNT", defaultRetryCount)
	v.SetDefault("STORE_DRIVER", StoreDriverMemory)
	v.SetDefault("DATABASE_MAX_CONNECTIONS", defaultDBMaxConnections)
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)
	v.SetDefault("GRAPH_MAX_CONNECTIONS", defaultGraphMaxSessions)
	v.SetDefault("COMMERCE_DRIVER", StoreDriverMemory)
	v.SetDefault("RECONCILE_ON_STARTUP", true)
	v.SetDefault("RECONCILE_WORKERS", defaultReconcileWorkers)
	return v
}

func load(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:              v.GetString("SERVER_HOST"),
			MetricsEnabled:    v.GetBool("SERVER_METRICS_ENABLED"),
			AllowedOriginsCSV: v.GetString("SERVER_ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:         v.GetString("LOG_LEVEL"),
			Format:        v.GetString("LOG_FORMAT"),
			IncludeCaller: v.GetBool("LOG_INCLUDE_CALLER"),
		},
		Ledger: LedgerConfig{
			Endpoint:   strings.TrimSpace(v.GetString("LEDGER_ENDPOINT")),
			Network:    v.GetString("LEDGER_NETWORK"),
			Username:   v.GetString("LEDGER_USERNAME"),
			Password:   v.GetString("LEDGER_PASSWORD"),
			APIKey:     v.GetString("LEDGER_API_KEY"),
			RetryCount: v.GetInt("LEDGER_RETRY_COUNT"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("STORE_DRIVER")),
		},
		Database: DatabaseConfig{
			URL:            v.GetString("DATABASE_URL"),
			MaxConnections: v.GetInt("DATABASE_MAX_CONNECTIONS"),
			AutoMigrate:    v.GetBool("DATABASE_AUTO_MIGRATE"),
		},
		Graph: GraphConfig{
			URI:            v.GetString("GRAPH_URI"),
			Database:       v.GetString("GRAPH_DATABASE"),
			Username:       v.GetString("GRAPH_USERNAME"),
			Password:       v.GetString("GRAPH_PASSWORD"),
			MaxConnections: v.GetInt("GRAPH_MAX_CONNECTIONS"),
		},
		Commerce: CommerceConfig{
			Driver: strings.ToLower(v.GetString("COMMERCE_DRIVER")),
		},
		Reconcile: ReconcileConfig{
			OnStartup: v.GetBool("RECONCILE_ON_STARTUP"),
			Workers:   v.GetInt("RECONCILE_WORKERS"),
		},
	}

	port := v.GetInt("SERVER_PORT")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid SERVER_PORT value %q", v.GetString("SERVER_PORT"))
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", defaultReadTimeout, &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", defaultWriteTimeout, &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{"LEDGER_SUBMIT_TIMEOUT", defaultSubmitTimeout, &cfg.Ledger.SubmitTimeout},
		{"LEDGER_CONFIRM_TIMEOUT", defaultConfirmTimeout, &cfg.Ledger.ConfirmTimeout},
		{"LEDGER_QUERY_TIMEOUT", defaultQueryTimeout, &cfg.Ledger.QueryTimeout},
		{"LEDGER_SIMULATION_DELAY", defaultSimulationDelay, &cfg.Ledger.SimulationDelay},
		{"CACHE_TTL", defaultCacheTTL, &cfg.Cache.TTL},
		{"CACHE_CLEANUP_INTERVAL", defaultCacheCleanup, &cfg.Cache.CleanupInterval},
		{"RECONCILE_PENDING_TIMEOUT", defaultPendingTimeout, &cfg.Reconcile.PendingTimeout},
	}
	for _, d := range durations {
		val, err := parseDuration(v, d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = val
	}

	switch cfg.Store.Driver {
	case StoreDriverMemory, StoreDriverPostgres, StoreDriverNeo4j:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.Store.Driver)
	}
	switch cfg.Commerce.Driver {
	case StoreDriverMemory, StoreDriverPostgres:
	default:
		return Config{}, fmt.Errorf("unsupported COMMERCE_DRIVER %q", cfg.Commerce.Driver)
	}
	if cfg.Reconcile.Workers <= 0 {
		cfg.Reconcile.Workers = defaultReconcileWorkers
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration", key)
	}
	return d, nil
}
