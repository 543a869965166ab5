package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"EasyCash-SDK/internal/api"
	"EasyCash-SDK/internal/config"
	"EasyCash-SDK/internal/observability/metrics"
	"EasyCash-SDK/internal/observability/tracing"
	"EasyCash-SDK/internal/task"
	"EasyCash-SDK/pkg/logger"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the async task workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (env ECASH_* overrides)")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("serve")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		ServiceName: cfg.Telemetry.Tracing.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(cfg.Tasks.QueueSize)
	tasks := task.NewService(store, queue, cfg.SDK.MaxRetries)
	defer tasks.Close()
	processor := task.NewProcessor(rt.client, store, queue, queue,
		task.WithWorkerCount(cfg.Tasks.Workers),
		task.WithBackoff(cfg.Tasks.Backoff.Duration),
		task.WithProcessorLogger(logger.Named("task")),
	)

	var sources []metrics.Source
	if m := rt.client.Metrics(); m != nil {
		sources = append(sources, m)
	}
	registry := metrics.NewRegistry(sources...)

	opts := []api.Option{
		api.WithTaskService(tasks),
		api.WithPrometheus(registry, metrics.NewHTTPObserver(registry)),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout.Duration),
	}
	if rt.registry != nil {
		opts = append(opts, api.WithChains(rt.registry))
	}
	if cfg.Server.SignaturePublicKey != "" {
		verifier, err := api.NewSignatureVerifier(cfg.Server.SignaturePublicKey)
		if err != nil {
			return err
		}
		opts = append(opts, api.WithSignatureVerifier(verifier))
	}
	server := api.NewServer(cfg.Server.Address, rt.client, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(processor.Start(gctx)) })
	g.Go(func() error { return ignoreCanceled(server.Start(gctx)) })
	if cfg.Telemetry.MetricsAddress != "" {
		g.Go(func() error { return ignoreCanceled(metrics.StartServer(gctx, cfg.Telemetry.MetricsAddress, registry)) })
	}

	log.Info("ecash 服务已启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("environment", cfg.SDK.Environment),
		slog.String("events", cfg.Events.Driver),
		slog.Int("workers", cfg.Tasks.Workers),
	)
	err = g.Wait()
	log.Info("ecash 服务已停止")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
