// Package storage selects and opens the backing store named by configuration.
package storage

import (
	"context"
	"fmt"
	"io"
	"persistkit/internal/config"
	"persistkit/internal/infra/persistence/filestore"
	"persistkit/internal/infra/persistence/kv"
	"persistkit/internal/infra/persistence/memory"
	"persistkit/internal/infra/persistence/objectstore"
	"persistkit/internal/infra/persistence/postgres"
	"persistkit/internal/infra/persistence/redis"
	"persistkit/internal/infra/persistence/sqlite"
	"persistkit/pkg/domain"
	"strings"
)

// Backend is an opened store plus the resources it owns.
type Backend struct {
	Driver string
	Store  domain.Store
	closer io.Closer
}

// Close releases connections held by the store. Memory, file and S3 backends hold none.
func (b *Backend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// Open builds the store for cfg.Driver.
func Open(ctx context.Context, cfg config.Storage, registry *domain.Registry) (*Backend, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = config.DriverMemory
	}
	switch driver {
	case config.DriverMemory:
		return &Backend{Driver: driver, Store: memory.NewStore()}, nil
	case config.DriverSQLite:
		s, err := sqlite.NewStore(ctx, cfg.SQLitePath, registry)
		if err != nil {
			return nil, err
		}
		return &Backend{Driver: driver, Store: s, closer: s}, nil
	case config.DriverPostgres:
		s, err := postgres.NewStore(ctx, postgres.Config{DSN: cfg.PostgresDSN}, registry)
		if err != nil {
			return nil, err
		}
		return &Backend{Driver: driver, Store: s, closer: s}, nil
	case config.DriverS3:
		s, err := objectstore.NewStore(ctx, objectstore.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
			Prefix:    cfg.S3.Prefix,
		}, registry)
		if err != nil {
			return nil, err
		}
		return &Backend{Driver: driver, Store: s}, nil
	case config.DriverRedis:
		b, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{Driver: driver, Store: kv.New(b, registry, cfg.Redis.Prefix), closer: b}, nil
	case config.DriverFile:
		s, err := filestore.NewStore(cfg.FileRoot, registry)
		if err != nil {
			return nil, err
		}
		return &Backend{Driver: driver, Store: s}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
