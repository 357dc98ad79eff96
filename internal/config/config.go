package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Catalog sources.
const (
	SourceHTTP     = "http"
	SourcePostgres = "postgres"
)

// Slot storage backends.
const (
	StorageMemory   = "memory"
	StorageBadger   = "badger"
	StoragePostgres = "postgres"
)

// Config holds the application's configuration values.
// Tags like `envconfig:"APP_PORT"` specify the environment variable name.
type Config struct {
	AppEnv     string `envconfig:"APP_ENV" default:"development"` // development, staging, production
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`      // debug, info, warn, error
	HttpServer ServerConfig
	GrpcServer GrpcServerConfig
	Catalog    CatalogConfig
	Storage    StorageConfig
	Postgres   PostgresConfig
}

// ServerConfig holds HTTP server-specific configurations.
type ServerConfig struct {
	Port         string        `envconfig:"HTTP_SERVER_PORT" default:"8080"`
	TimeoutRead  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"15s"`
	TimeoutIdle  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
}

// GrpcServerConfig holds gRPC server-specific configurations.
type GrpcServerConfig struct {
	Port string `envconfig:"GRPC_SERVER_PORT" default:"9090"`
}

// CatalogConfig selects where catalog data comes from and how long results stay fresh.
type CatalogConfig struct {
	Source     string        `envconfig:"CATALOG_SOURCE" default:"http"`
	APIBaseURL string        `envconfig:"CATALOG_API_BASE_URL"`
	APITimeout time.Duration `envconfig:"CATALOG_API_TIMEOUT" default:"8s"`
	CacheTTL   time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"5m"`
	// SessionLimit caps how many client sessions keep a supersession slot.
	SessionLimit int `envconfig:"CATALOG_SESSION_LIMIT" default:"1024"`
}

// StorageConfig selects the slot storage backing the commerce stores and the results cache.
type StorageConfig struct {
	Backend    string `envconfig:"STORAGE_BACKEND" default:"memory"`
	BadgerPath string `envconfig:"STORAGE_BADGER_PATH" default:"./data/slots"`
}

// PostgresConfig holds PostgreSQL connection details. Only needed when a
// Postgres catalog source or slot backend is selected.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     string `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	DBName   string `envconfig:"POSTGRES_DBNAME"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

// NeedsPostgres reports whether any configured component talks to PostgreSQL.
func (c *Config) NeedsPostgres() bool {
	return c.Catalog.Source == SourcePostgres || c.Storage.Backend == StoragePostgres
}

// Load initializes the configuration from environment variables.
// It should be called once during application startup.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	cfg.Catalog.Source = strings.ToLower(strings.TrimSpace(cfg.Catalog.Source))
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.Catalog.Source {
	case SourceHTTP, SourcePostgres:
	default:
		errs = append(errs, fmt.Errorf("CATALOG_SOURCE must be %q or %q, got %q", SourceHTTP, SourcePostgres, c.Catalog.Source))
	}
	switch c.Storage.Backend {
	case StorageMemory, StoragePostgres:
	case StorageBadger:
		if strings.TrimSpace(c.Storage.BadgerPath) == "" {
			errs = append(errs, errors.New("STORAGE_BADGER_PATH is required for the badger backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be one of memory, badger, postgres, got %q", c.Storage.Backend))
	}

	if c.Catalog.APITimeout <= 0 {
		errs = append(errs, errors.New("CATALOG_API_TIMEOUT must be positive"))
	}
	if c.Catalog.CacheTTL <= 0 {
		errs = append(errs, errors.New("CATALOG_CACHE_TTL must be positive"))
	}

	if c.NeedsPostgres() {
		for _, field := range []struct{ name, value string }{
			{"POSTGRES_HOST", c.Postgres.Host},
			{"POSTGRES_USER", c.Postgres.User},
			{"POSTGRES_PASSWORD", c.Postgres.Password},
			{"POSTGRES_DBNAME", c.Postgres.DBName},
		} {
			if field.value == "" {
				errs = append(errs, fmt.Errorf("%s is required when PostgreSQL is used", field.name))
			}
		}
	}
	return errors.Join(errs...)
}
