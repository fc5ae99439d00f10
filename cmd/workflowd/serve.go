package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meikuraledutech/workflow/catalog"
	"github.com/meikuraledutech/workflow/config"
	"github.com/meikuraledutech/workflow/coordinator"
	"github.com/meikuraledutech/workflow/handlers"
	"github.com/meikuraledutech/workflow/logger"
	"github.com/meikuraledutech/workflow/schedule"
	"github.com/meikuraledutech/workflow/server"
	"github.com/meikuraledutech/workflow/telemetry"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the run workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.App.Name); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	planner, err := schedule.NewPlanner(schedule.CacheConfig{Size: cfg.Planner.CacheSize, TTL: cfg.Planner.CacheTTL})
	if err != nil {
		return err
	}
	defer planner.Close()

	sinks := telemetry.Multi{telemetry.NewLogSink()}
	if cfg.Telemetry.Metrics {
		ms, err := telemetry.NewMetricSink(nil)
		if err != nil {
			return err
		}
		sinks = append(sinks, ms)
	}

	coord := coordinator.New(st.versions, st.runs, st.idem, handlers.WithBuiltins(),
		coordinator.WithMaxParallelism(cfg.Coordinator.MaxParallelism),
		coordinator.WithMaxConcurrentRuns(cfg.Coordinator.MaxConcurrentRuns),
		coordinator.WithQueueSize(cfg.Coordinator.QueueSize),
		coordinator.WithPlanner(planner),
		coordinator.WithEvents(sinks),
		coordinator.WithLogger(log.With().Str("component", "coordinator").Logger()),
	)
	app := server.New(catalog.New(st.versions), coord)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Serve(gctx) })
	g.Go(func() error {
		// workers are already draining the queue, so requeueing cannot block for long
		_, _, err := coord.Recover(gctx)
		return err
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http listening")
		return app.Listen(cfg.Server.Addr, fiber.ListenConfig{DisableStartupMessage: true})
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		return app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout)
	})
	return g.Wait()
}
