// Package config loads process configuration from an optional YAML file and
// PERSISTKIT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"persistkit/pkg/persistence"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage drivers understood by internal/storage.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
	DriverRedis    = "redis"
	DriverFile     = "file"
)

// Metrics drivers.
const (
	MetricsNone       = "none"
	MetricsPrometheus = "prometheus"
	MetricsExpvar     = "expvar"
)

// Config is the root configuration document.
type Config struct {
	Storage Storage `yaml:"storage"`
	Context Context `yaml:"context"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Storage selects and configures the backing store.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	FileRoot    string `yaml:"file_root"`
	Redis       Redis  `yaml:"redis"`
	S3          S3     `yaml:"s3"`
}

// Redis connection settings.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// S3 bucket settings.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"path_style"`
}

// Context holds persistence context behaviour.
type Context struct {
	FlushOrder   string `yaml:"flush_order"`
	MergeMissing string `yaml:"merge_missing"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics selects the metrics recorder.
type Metrics struct {
	Driver    string `yaml:"driver"`
	Namespace string `yaml:"namespace"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: Storage{Driver: DriverMemory, SQLitePath: "persistkit.db", FileRoot: "persistkit-data"},
		Context: Context{FlushOrder: persistence.FlushOrderByKind.String(), MergeMissing: persistence.MergeMissingInsert.String()},
		Log:     Log{Level: "INFO", Format: "text"},
		Metrics: Metrics{Driver: MetricsNone, Namespace: "persistkit"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays PERSISTKIT_* variables.
//
//	PERSISTKIT_STORAGE_DRIVER: memory|sqlite|postgres|s3|redis|file
//	PERSISTKIT_SQLITE_PATH, PERSISTKIT_POSTGRES_DSN, PERSISTKIT_FILE_ROOT
//	PERSISTKIT_REDIS_ADDR, PERSISTKIT_REDIS_PASSWORD, PERSISTKIT_REDIS_DB, PERSISTKIT_REDIS_PREFIX
//	PERSISTKIT_S3_BUCKET, PERSISTKIT_S3_REGION, PERSISTKIT_S3_ENDPOINT, PERSISTKIT_S3_PREFIX, PERSISTKIT_S3_PATH_STYLE
//	PERSISTKIT_FLUSH_ORDER, PERSISTKIT_MERGE_MISSING
//	PERSISTKIT_LOG_LEVEL, PERSISTKIT_LOG_FORMAT
//	PERSISTKIT_METRICS_DRIVER, PERSISTKIT_METRICS_NAMESPACE
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("PERSISTKIT_STORAGE_DRIVER", &c.Storage.Driver)
	str("PERSISTKIT_SQLITE_PATH", &c.Storage.SQLitePath)
	str("PERSISTKIT_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("PERSISTKIT_FILE_ROOT", &c.Storage.FileRoot)
	str("PERSISTKIT_REDIS_ADDR", &c.Storage.Redis.Addr)
	str("PERSISTKIT_REDIS_PASSWORD", &c.Storage.Redis.Password)
	str("PERSISTKIT_REDIS_PREFIX", &c.Storage.Redis.Prefix)
	str("PERSISTKIT_S3_BUCKET", &c.Storage.S3.Bucket)
	str("PERSISTKIT_S3_REGION", &c.Storage.S3.Region)
	str("PERSISTKIT_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("PERSISTKIT_S3_PREFIX", &c.Storage.S3.Prefix)
	str("PERSISTKIT_FLUSH_ORDER", &c.Context.FlushOrder)
	str("PERSISTKIT_MERGE_MISSING", &c.Context.MergeMissing)
	str("PERSISTKIT_LOG_LEVEL", &c.Log.Level)
	str("PERSISTKIT_LOG_FORMAT", &c.Log.Format)
	str("PERSISTKIT_METRICS_DRIVER", &c.Metrics.Driver)
	str("PERSISTKIT_METRICS_NAMESPACE", &c.Metrics.Namespace)

	if v, ok := lookup("PERSISTKIT_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PERSISTKIT_REDIS_DB: %w", err)
		}
		c.Storage.Redis.DB = db
	}
	if v, ok := lookup("PERSISTKIT_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PERSISTKIT_S3_PATH_STYLE: %w", err)
		}
		c.Storage.S3.PathStyle = b
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Storage.Driver) {
	case DriverMemory, DriverSQLite, DriverFile:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 driver"))
		}
	case DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if _, err := persistence.ParseFlushOrder(c.Context.FlushOrder); err != nil {
		errs = append(errs, err)
	}
	if _, err := persistence.ParseMergeMissing(c.Context.MergeMissing); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	switch strings.ToLower(c.Metrics.Driver) {
	case "", MetricsNone, MetricsPrometheus, MetricsExpvar:
	default:
		errs = append(errs, fmt.Errorf("unknown metrics driver %q", c.Metrics.Driver))
	}
	return errors.Join(errs...)
}

// Options translates the context section into factory options.
func (c Config) Options() ([]persistence.Option, error) {
	order, err := persistence.ParseFlushOrder(c.Context.FlushOrder)
	if err != nil {
		return nil, err
	}
	merge, err := persistence.ParseMergeMissing(c.Context.MergeMissing)
	if err != nil {
		return nil, err
	}
	return []persistence.Option{persistence.WithFlushOrder(order), persistence.WithMergeMissing(merge)}, nil
}
