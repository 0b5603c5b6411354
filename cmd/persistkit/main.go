// Command persistkit replays the Memo unit-of-work scenarios against the
// configured store and prints what each step observed.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"persistkit/internal/config"
	"persistkit/internal/logging"
	"persistkit/internal/observability"
	"persistkit/internal/storage"
	"persistkit/pkg/domain"
	"persistkit/pkg/memo"
	"persistkit/pkg/persistence"

	"github.com/prometheus/client_golang/prometheus"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("persistkit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var configPath, driver, flushOrder string
	fs.StringVar(&configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&driver, "driver", "", "storage driver override (memory|sqlite|postgres|s3|redis|file)")
	fs.StringVar(&flushOrder, "flush-order", "", "flush order override (by-kind|temporal)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if driver != "" {
		cfg.Storage.Driver = driver
	}
	if flushOrder != "" {
		cfg.Context.FlushOrder = flushOrder
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err := run(context.Background(), cfg, logger, stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "persistkit: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) (err error) {
	registry, err := domain.NewRegistry(memo.Type())
	if err != nil {
		return err
	}
	backend, err := storage.Open(ctx, cfg.Storage, registry)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	opts = append(opts, persistence.WithLogger(logger))
	var report func() error
	switch cfg.Metrics.Driver {
	case config.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		rec, err := observability.NewPrometheusRecorder(reg, cfg.Metrics.Namespace)
		if err != nil {
			return err
		}
		opts = append(opts, persistence.WithMetrics(rec))
		report = func() error {
			families, err := reg.Gather()
			if err != nil {
				return err
			}
			for _, mf := range families {
				_, _ = fmt.Fprintf(out, "metric %s series=%d\n", mf.GetName(), len(mf.GetMetric()))
			}
			return nil
		}
	case config.MetricsExpvar:
		rec := observability.NewExpvarRecorder("")
		opts = append(opts, persistence.WithMetrics(rec))
		report = func() error {
			snap := rec.Snapshot()
			for event, n := range snap.Events {
				_, _ = fmt.Fprintf(out, "event %s=%d\n", event, n)
			}
			return nil
		}
	}

	factory, err := persistence.NewFactory(backend.Store, registry, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = factory.Close() }()

	d := &demo{factory: factory, out: out}
	if err := d.replay(ctx); err != nil {
		return err
	}
	if report != nil {
		return report()
	}
	return nil
}
