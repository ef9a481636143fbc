// Package config provides configuration for the AutoTable service and tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/autotable/autotable/internal/store"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable LoadFromEnv reads.
const EnvPrefix = "AUTOTABLE_"

// Config holds the AutoTable configuration.
type Config struct {
	// DataDir is the base directory for the store and local snapshots
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Store configuration
	Store StoreConfig `json:"store" yaml:"store"`

	// Engine configuration
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Backup configuration
	Backup BackupConfig `json:"backup" yaml:"backup"`

	// Storage configuration for snapshots
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StoreConfig holds relational store configuration.
type StoreConfig struct {
	// Driver is the store driver. Only "sqlite" is supported.
	Driver string `json:"driver" yaml:"driver"`

	// Path is the database file (default <data_dir>/autotable.db)
	Path string `json:"path" yaml:"path"`

	// Namespace is the schema tables are created in (default "main")
	Namespace string `json:"namespace" yaml:"namespace"`

	// BusyTimeout is how long a statement waits for a store lock
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// MaxOpenConns bounds the connection pool
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`
}

// EngineConfig holds write engine configuration.
type EngineConfig struct {
	// StrictUpdate makes updates of unknown keys fail with NOT_FOUND
	StrictUpdate bool `json:"strict_update" yaml:"strict_update"`

	// WarmOnStart loads existing table schemas into the catalog at startup
	WarmOnStart bool `json:"warm_on_start" yaml:"warm_on_start"`

	// StatsWindow drops per-table statistics for tables with no successful
	// write within the window. Zero keeps them forever.
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// RateLimit is the allowed requests per second; 0 disables limiting
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// RateBurst is the token bucket size
	RateBurst int `json:"rate_burst" yaml:"rate_burst"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// BackupConfig holds snapshot configuration.
type BackupConfig struct {
	// Enabled starts the snapshot daemon
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is the time between scheduled snapshots
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Retention is the number of snapshots kept; 0 keeps all
	Retention int `json:"retention" yaml:"retention"`

	// Prefix is the object path prefix for snapshots
	Prefix string `json:"prefix" yaml:"prefix"`

	// WorkDir holds temporary snapshot files
	WorkDir string `json:"work_dir" yaml:"work_dir"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// StorageClass for snapshot objects (bucket default when empty)
	StorageClass string `json:"storage_class" yaml:"storage_class"`

	// ServerSideEncryption is AES256 or aws:kms (disabled when empty)
	ServerSideEncryption string `json:"sse" yaml:"sse"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/autotable",
		Store: StoreConfig{
			Driver:       "sqlite",
			Namespace:    store.DefaultNamespace,
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 8,
		},
		Engine: EngineConfig{
			WarmOnStart: true,
			StatsWindow: 24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			RateBurst:    100,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Backup: BackupConfig{
			Interval:  time.Hour,
			Retention: 24,
			Prefix:    "snapshots",
		},
		Storage: StorageConfig{
			Type: "local",
		},
	}
}

// Resolve fills paths derived from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/autotable"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "autotable.db")
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = store.DefaultNamespace
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Backup.WorkDir == "" {
		c.Backup.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.Backup.Prefix == "" {
		c.Backup.Prefix = "snapshots"
	}
}

// StorePath returns the database file path.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "autotable.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Store.Driver != "sqlite" {
		return fmt.Errorf("invalid store driver: %s (must be sqlite)", c.Store.Driver)
	}
	if err := store.ValidateIdentifier("namespace", c.Store.Namespace); err != nil {
		return fmt.Errorf("store.namespace: %w", err)
	}
	if c.Store.MaxOpenConns < 0 {
		return fmt.Errorf("store.max_open_conns must not be negative, got %d", c.Store.MaxOpenConns)
	}

	if c.Engine.StatsWindow < 0 {
		return fmt.Errorf("engine.stats_window must not be negative, got %s", c.Engine.StatsWindow)
	}

	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative, got %g", c.HTTP.RateLimit)
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst <= 0 {
		return fmt.Errorf("http.rate_burst must be positive when rate limiting is enabled")
	}

	if c.Backup.Enabled && c.Backup.Interval <= 0 {
		return fmt.Errorf("backup.interval must be positive when backups are enabled")
	}
	if c.Backup.Retention < 0 {
		return fmt.Errorf("backup.retention must not be negative, got %d", c.Backup.Retention)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides cfg from AUTOTABLE_* environment variables.
// Malformed numeric, boolean or duration values are reported and leave
// the field unchanged.
func LoadFromEnv(cfg *Config) error {
	var errs []string
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, EnvPrefix+name)
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, EnvPrefix+name)
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, EnvPrefix+name)
				return
			}
			*dst = f
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, EnvPrefix+name)
				return
			}
			*dst = d
		}
	}

	str("DATA_DIR", &cfg.DataDir)

	str("STORE_DRIVER", &cfg.Store.Driver)
	str("STORE_PATH", &cfg.Store.Path)
	str("STORE_NAMESPACE", &cfg.Store.Namespace)
	duration("STORE_BUSY_TIMEOUT", &cfg.Store.BusyTimeout)
	integer("STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns)

	boolean("ENGINE_STRICT_UPDATE", &cfg.Engine.StrictUpdate)
	boolean("ENGINE_WARM_ON_START", &cfg.Engine.WarmOnStart)
	duration("ENGINE_STATS_WINDOW", &cfg.Engine.StatsWindow)

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	duration("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	duration("HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	duration("HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout)
	float("HTTP_RATE_LIMIT", &cfg.HTTP.RateLimit)
	integer("HTTP_RATE_BURST", &cfg.HTTP.RateBurst)

	str("GRPC_ADDR", &cfg.GRPC.Addr)
	boolean("GRPC_ENABLED", &cfg.GRPC.Enabled)

	boolean("BACKUP_ENABLED", &cfg.Backup.Enabled)
	duration("BACKUP_INTERVAL", &cfg.Backup.Interval)
	integer("BACKUP_RETENTION", &cfg.Backup.Retention)
	str("BACKUP_PREFIX", &cfg.Backup.Prefix)
	str("BACKUP_WORK_DIR", &cfg.Backup.WorkDir)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	boolean("S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)
	str("S3_STORAGE_CLASS", &cfg.Storage.S3.StorageClass)
	str("S3_SSE", &cfg.Storage.S3.ServerSideEncryption)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.StorePath()),
		c.Backup.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
