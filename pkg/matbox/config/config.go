package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/matbox/pkg/matbox"
	"github.com/tendant/matbox/pkg/matbox/contentstore"
	"github.com/tendant/matbox/pkg/matbox/metrics"
	"github.com/tendant/matbox/pkg/matbox/migrations"
	"github.com/tendant/matbox/pkg/matbox/repo/memory"
	repopg "github.com/tendant/matbox/pkg/matbox/repo/postgres"
	reposqlite "github.com/tendant/matbox/pkg/matbox/repo/sqlite"
	fsstorage "github.com/tendant/matbox/pkg/matbox/storage/fs"
	memorystorage "github.com/tendant/matbox/pkg/matbox/storage/memory"
	s3storage "github.com/tendant/matbox/pkg/matbox/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		Storage: StorageConfig{
			Type:   "memory",
			Config: map[string]interface{}{},
		},
		KnownHashCacheSize: contentstore.DefaultKnownHashCacheSize,
		EnableMetrics:      true,
		MetricsNamespace:   "matbox",
	}
}

// ServerConfig represents configuration for a matbox deployment
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres", "sqlite"
	DBSchema     string // Postgres schema to use (default: search_path of the role)
	AutoMigrate  bool   // Apply postgres migrations on startup. SQLite is always migrated.

	// Content storage
	Storage StorageConfig

	// Service limits
	MaxUploadBytes     int64
	KnownHashCacheSize int

	// HTTP options
	JWTSecret        string // Verify bearer tokens and take the owner from "sub" when set
	EnableMetrics    bool
	MetricsNamespace string

	// Registerer receives the metrics; nil means the default registerer
	Registerer prometheus.Registerer
}

// StorageConfig represents configuration for the blob storage backend
type StorageConfig struct {
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case "memory":
	case "postgres", "sqlite":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when using %s", c.DatabaseType)
		}
	default:
		return errors.New("database_type must be 'memory', 'postgres' or 'sqlite'")
	}

	switch c.Storage.Type {
	case "memory":
	case "fs":
		if getString(c.Storage.Config, "base_dir", "") == "" {
			return errors.New("base_dir is required for fs storage")
		}
	case "s3":
		if getString(c.Storage.Config, "bucket", "") == "" {
			return errors.New("bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}

	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes cannot be negative: %d", c.MaxUploadBytes)
	}

	return nil
}

// Runtime holds a built service and the resources it owns.
type Runtime struct {
	Service matbox.Service
	// Metrics is nil when metrics are disabled
	Metrics *metrics.Collector

	closers []func()
	pingers []func(ctx context.Context) error
}

// Ping checks the database connections held by the runtime
func (r *Runtime) Ping(ctx context.Context) error {
	for _, ping := range r.pingers {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
	}
	return nil
}

// Close releases database connections held by the runtime
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	var (
		sink     matbox.EventSink = matbox.NewNoopEventSink()
		observer contentstore.Observer
	)
	if c.EnableMetrics {
		collector, err := metrics.New(c.MetricsNamespace, c.Registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		rt.Metrics = collector
		sink = collector
		observer = collector
	}

	repo, err := c.buildRepository(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	backend, err := c.buildStorageBackend()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}

	storeOpts := []contentstore.Option{
		contentstore.WithBackendName(c.Storage.Type),
		contentstore.WithKnownHashCacheSize(c.KnownHashCacheSize),
	}
	if observer != nil {
		storeOpts = append(storeOpts, contentstore.WithObserver(observer))
	}
	store, err := contentstore.New(backend, storeOpts...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	svc, err := matbox.New(
		matbox.WithRepository(repo),
		matbox.WithContentStore(store),
		matbox.WithEventSink(sink),
		matbox.WithLogger(logger),
		matbox.WithMaxUploadBytes(c.MaxUploadBytes),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (matbox.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil

	case "postgres":
		if c.AutoMigrate {
			if err := migrations.MigratePostgres(withSearchPath(c.DatabaseURL, c.DBSchema)); err != nil {
				return nil, err
			}
		}
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.pingers = append(rt.pingers, pool.Ping)
		return repopg.NewWithPool(pool), nil

	case "sqlite":
		db, err := reposqlite.Open(c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { db.Close() })
		rt.pingers = append(rt.pingers, db.PingContext)
		if err := migrations.MigrateSQLite(db); err != nil {
			return nil, err
		}
		return reposqlite.New(db), nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		searchPath := pgx.Identifier{schema}.Sanitize()
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+searchPath)
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingDatabase verifies connectivity to the configured database.
func (c *ServerConfig) PingDatabase(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch c.DatabaseType {
	case "postgres":
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		return nil
	case "sqlite":
		db, err := reposqlite.Open(c.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		return pingSQL(ctx, db)
	default:
		return nil
	}
}

func pingSQL(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Migrate applies the schema for the configured SQL database
func (c *ServerConfig) Migrate() error {
	switch c.DatabaseType {
	case "postgres":
		return migrations.MigratePostgres(withSearchPath(c.DatabaseURL, c.DBSchema))
	case "sqlite":
		db, err := reposqlite.Open(c.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		return migrations.MigrateSQLite(db)
	default:
		return fmt.Errorf("database type %s has no schema to migrate", c.DatabaseType)
	}
}

// CheckMigrations reports whether the sqlite schema is at the latest version
func (c *ServerConfig) CheckMigrations() error {
	if c.DatabaseType != "sqlite" {
		return fmt.Errorf("schema status is only available for sqlite, not %s", c.DatabaseType)
	}
	db, err := reposqlite.Open(c.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.CheckSQLiteStatus(db)
}

// buildStorageBackend creates a BlobStore based on the storage configuration
func (c *ServerConfig) buildStorageBackend() (matbox.BlobStore, error) {
	config := c.Storage
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/storage"),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			Prefix:                 getString(config.Config, "prefix", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
