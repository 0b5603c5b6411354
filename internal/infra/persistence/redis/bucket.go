// Package redis keeps entity payloads as Redis string values. Commits are
// applied with MULTI/EXEC so a flush lands atomically.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"persistkit/internal/infra/persistence/kv"
	"persistkit/pkg/domain"
	"time"

	"github.com/redis/go-redis/v9"
	retry "github.com/sethvargo/go-retry"
)

var (
	_ kv.Bucket  = (*Bucket)(nil)
	_ kv.Batcher = (*Bucket)(nil)
)

// DefaultAddr is used when Config.Addr is empty.
const DefaultAddr = "localhost:6379"

// Config holds connection options.
type Config struct {
	// Redis server address.
	Addr string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TLS config.
	TLSConfig *tls.Config
	// Prefix namespaces every key written by the store.
	Prefix string
	// PingRetries bounds connection attempts at start-up.
	PingRetries uint64
	PingBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.PingBackoff <= 0 {
		c.PingBackoff = 200 * time.Millisecond
	}
	return c
}

// Bucket implements kv.Bucket and kv.Batcher on a Redis client.
type Bucket struct {
	client *redis.Client
}

// New connects and pings the server.
func New(ctx context.Context, cfg Config) (*Bucket, error) {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		TLSConfig: cfg.TLSConfig,
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
	})
	b := &Bucket{client: client}
	backoff := retry.WithMaxRetries(cfg.PingRetries, retry.NewFibonacci(cfg.PingBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return b, nil
}

// NewStore connects and wraps the bucket as a domain.Store.
func NewStore(ctx context.Context, cfg Config, registry *domain.Registry) (*kv.Store, error) {
	b, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return kv.New(b, registry, cfg.Prefix), nil
}

// Client exposes the underlying client.
func (b *Bucket) Client() *redis.Client { return b.client }

// Close the connection.
func (b *Bucket) Close() error { return b.client.Close() }

// Get implements kv.Bucket. A missing key is reported as ok=false.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put implements kv.Bucket.
func (b *Bucket) Put(ctx context.Context, key string, value []byte) error {
	return b.client.Set(ctx, key, value, 0).Err()
}

// Delete implements kv.Bucket.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// Apply implements kv.Batcher.
func (b *Bucket) Apply(ctx context.Context, writes []kv.Write) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			if w.Delete {
				pipe.Del(ctx, w.Key)
				continue
			}
			pipe.Set(ctx, w.Key, w.Value, 0)
		}
		return nil
	})
	return err
}
