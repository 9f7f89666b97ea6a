package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fhirindex/internal/config"
	"fhirindex/internal/controller"
	"fhirindex/internal/controller/handlers"
	"fhirindex/internal/indexer"
	"fhirindex/internal/logger"
	"fhirindex/internal/observability"
	"fhirindex/internal/queue"
	"fhirindex/internal/store/postgres"
	"fhirindex/internal/worker"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the worker pool",
	Long: `Start the indexing service. Jobs left RUNNING by a previous process are
requeued before the workers start. SIGINT or SIGTERM stops accepting requests
and lets each worker finish the identifier it is on; unfinished jobs go back
to the queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		migrateFirst, _ := cmd.Flags().GetBool("migrate")

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, migrateFirst)
	},
}

func serve(ctx context.Context, cfg *config.Config, migrateFirst bool) error {
	log := logger.New(cfg.Log.Level)

	store, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{
		MaxOpenConns: cfg.Worker.PoolSize + 5,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if migrateFirst {
		log.Info("Running database migrations")
		if err := postgres.Migrate(store.DB()); err != nil {
			return err
		}
	}

	recovered, err := store.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.Warn("Requeued jobs interrupted by a previous shutdown", "count", recovered)
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.ServiceName, cfg.OTEL.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("Failed to shutdown metrics", "error", err)
		}
	}()

	httpClient := &http.Client{Timeout: cfg.HTTP.RequestTimeout}
	comps, err := newComponents(cfg, httpClient, log)
	if err != nil {
		return err
	}
	comps.logVersions(ctx, log)

	registry := queue.NewRegistry(store, log)
	q := queue.New(store, queue.Config{RefreshInterval: cfg.Queue.RefreshInterval}, log)
	unregisterDepth, err := observability.RegisterQueueDepth(q)
	if err != nil {
		log.Error("Failed to register queue depth metric", "error", err)
	} else {
		defer unregisterDepth()
	}

	pipeline := indexer.NewPipeline(comps.indexer, store, indexer.PipelineConfig{
		CheckpointInterval: cfg.Pipeline.CheckpointInterval,
	}, log)
	service := indexer.NewService(store, registry, q, pipeline, comps.indexer, log)

	runMetrics, err := observability.NewRunMetrics()
	if err != nil {
		return err
	}
	pool := worker.New(q, registry, pipeline, worker.Config{
		Name:    hostname(),
		Size:    cfg.Worker.PoolSize,
		Backoff: cfg.Worker.Backoff,
		Metrics: runMetrics,
	}, log)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, handlers.New(service, store, log), controller.Options{
		APIKeyHash: cfg.APIKeyHash,
		RateLimit:  cfg.APIRateLimit,
		Metrics:    metricsHandler,
		Logger:     log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP API starting", "addr", addr)
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return pool.Run(gctx)
	})

	err = g.Wait()
	log.Info("Indexing service stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "worker"
	}
	return name
}

func init() {
	serveCmd.Flags().Bool("migrate", true, "Apply pending database migrations before starting")
	rootCmd.AddCommand(serveCmd)
}
