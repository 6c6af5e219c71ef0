package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pockitect/pockitect/pkg/api"
	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/cloud/aws"
	"github.com/pockitect/pockitect/pkg/cloud/memcloud"
	"github.com/pockitect/pockitect/pkg/config"
	"github.com/pockitect/pockitect/pkg/confirm"
	"github.com/pockitect/pockitect/pkg/deleter"
	"github.com/pockitect/pockitect/pkg/discovery"
	"github.com/pockitect/pockitect/pkg/dispatch"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/policy"
	"github.com/pockitect/pockitect/pkg/registry"
	"github.com/pockitect/pockitect/pkg/scan"
	"github.com/pockitect/pockitect/pkg/stores"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Long: `Run the command dispatcher, the confirmation service and the admin API.

Commands arrive on the configured bus. Each one is handled on a bounded
worker pool and reports progress as status events on the same bus.`,
		Example: `  # Run against AWS with the in-process bus
  pockitectd serve

  # Run with a config file and a Redis bus
  POCKITECT_REDIS_ADDR=localhost:6379 pockitectd serve -c pockitect.yaml

  # Try things out without a cloud account
  POCKITECT_PROVIDER=memory pockitectd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Telemetry.ServiceVersion == "" || cfg.Telemetry.ServiceVersion == "dev" {
				cfg.Telemetry.ServiceVersion = version
			}
			return serve(cmd.Context(), cfg)
		},
	}
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	if err := tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	logger := tel.Logger.Zerolog()

	provider := newProvider(cfg, tel, logger)

	b, err := newBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	store, err := stores.Open(ctx, cfg.Registry.Backend, cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("failed to open registry store: %w", err)
	}
	defer store.Close()

	reg, err := registry.Open(ctx, store, registry.Options{Metrics: tel.Metrics, Logger: logger})
	if err != nil {
		return err
	}

	var recorder scan.Recorder = scan.FileRecorder{Path: filepath.Join(cfg.Paths.CacheDir, "last_scan")}
	if rb, ok := b.(*bus.RedisBus); ok {
		recorder = scan.RedisRecorder{Client: rb.Client()}
	}
	scanner := scan.New(provider, scan.Options{
		CacheDir: cfg.Paths.CacheDir,
		Regions:  cfg.Scan.Regions,
		Recorder: recorder,
		Logger:   logger,
	})

	guard, err := policy.NewEngine(logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if err := guard.LoadDir(ctx, cfg.Policy.Dir); err != nil {
		return err
	}
	if cfg.Policy.Watch && cfg.Policy.Dir != "" {
		if err := guard.Watch(ctx, cfg.Policy.Dir); err != nil {
			logger.Warn().Err(err).Str("dir", cfg.Policy.Dir).Msg("policy hot reload disabled")
		}
	}

	confirmer := confirm.New(provider, b, confirm.Options{
		Settings:      cfg.Confirm,
		DefaultRegion: cfg.Provider.DefaultRegion,
		Telemetry:     tel,
		Logger:        logger,
	})
	if _, err := confirmer.Start(ctx, b); err != nil {
		return fmt.Errorf("failed to start confirmation service: %w", err)
	}
	defer confirmer.Stop()

	finder := discovery.New(provider, logger)
	dispatcher := dispatch.New(dispatch.Deps{
		Provider:  provider,
		Publisher: b,
		Registry:  reg,
		Finder:    finder,
		Deleter: deleter.New(provider, deleter.Options{
			Waits:     cfg.Deletion.Waits,
			Telemetry: tel,
			Logger:    logger,
		}),
		Scanner: scanner,
		Guard:   guard,
	}, dispatch.Options{
		Workers:       cfg.Workers,
		ProjectsDir:   cfg.Paths.ProjectsDir,
		DefaultRegion: cfg.Provider.DefaultRegion,
		Deletion: engine.ExecutorOptions{
			MaxParallel: cfg.Deletion.MaxParallel,
			LayerPause:  cfg.Deletion.LayerPause,
		},
		Telemetry: tel,
		Logger:    logger,
	})
	if _, err := dispatcher.Start(ctx, b); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	logger.Info().
		Str("provider", provider.Name()).
		Str("bus", cfg.Bus.Backend).
		Int("workers", cfg.Workers).
		Int("tracked", len(reg.All())).
		Msg("pockitectd started")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.API.Listen != "" {
		router := api.NewRouter(&api.Server{
			Bus:      b,
			Registry: reg,
			Graph:    engine.NewGraphBuilder(finder, logger),
			Tasks:    confirmer,
			Metrics:  tel.Metrics.Handler(),
			Logger:   logger,
		})
		g.Go(func() error {
			return api.Serve(gctx, cfg.API.Listen, router, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("pockitectd stopping")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newProvider(cfg *config.Config, tel *telemetry.Telemetry, logger zerolog.Logger) cloud.Provider {
	if cfg.Provider.Name == "memory" {
		logger.Warn().Msg("using the in-memory cloud; nothing is persisted")
		return memcloud.New()
	}
	return aws.New(aws.Options{
		DefaultRegion:     cfg.Provider.DefaultRegion,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		Telemetry:         tel,
		Logger:            logger,
	})
}

func newBus(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (bus.Bus, error) {
	if cfg.Bus.Backend == "redis" {
		b, err := bus.NewRedis(ctx, cfg.Bus.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis bus: %w", err)
		}
		return b, nil
	}
	return bus.NewMemory(bus.MemoryOptions{BufferSize: cfg.Bus.BufferSize}, logger), nil
}
