package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/api"
	"github.com/shubhsaxena/catalog-search/internal/cache"
	"github.com/shubhsaxena/catalog-search/internal/catalog"
	"github.com/shubhsaxena/catalog-search/internal/clickhouse"
	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/elasticsearch"
	"github.com/shubhsaxena/catalog-search/internal/gateway"
	"github.com/shubhsaxena/catalog-search/internal/indexing"
	"github.com/shubhsaxena/catalog-search/internal/kafka"
	"github.com/shubhsaxena/catalog-search/internal/lock"
	"github.com/shubhsaxena/catalog-search/internal/observability"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := run(*configPath, *envPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string) (err error) {
	if err := config.LoadDotEnv(envPath); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting catalog search service",
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("index", cfg.Elasticsearch.Index),
		zap.String("unavailable_policy", cfg.Search.UnavailablePolicy),
	)

	tracerShutdown, err := observability.InitTracer(cfg.Observability.ServiceName)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without tracing", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// closers run in reverse order on shutdown and their errors are combined.
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	esClient, err := elasticsearch.NewClient(cfg.Elasticsearch, cfg.Search, logger)
	if err != nil {
		return fmt.Errorf("initializing elasticsearch: %w", err)
	}
	bootstrapCtx, bootstrapCancel := context.WithTimeout(ctx, cfg.Elasticsearch.RequestTimeout)
	if err := esClient.EnsureIndex(bootstrapCtx); err != nil {
		logger.Warn("index bootstrap failed, the first reindex will create it with dynamic mappings", zap.Error(err))
	}
	bootstrapCancel()

	var chClient *clickhouse.Client
	if cfg.ClickHouse.Enabled() {
		chClient, err = clickhouse.NewClient(cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("clickhouse initialization failed, analytics will be unavailable", zap.Error(err))
			chClient = nil
		} else {
			closers = append(closers, chClient.Close)
			if err := chClient.EnsureTables(ctx); err != nil {
				logger.Warn("clickhouse table creation failed", zap.Error(err))
			}
		}
	}

	var analyticsWriter observability.AnalyticsWriter
	if chClient != nil {
		analyticsWriter = chClient
	}
	slowQueryDetector := observability.NewSlowQueryDetector(
		cfg.Search.SlowQuery.WarningThreshold,
		cfg.Search.SlowQuery.CriticalThreshold,
		logger,
		analyticsWriter,
	)

	gw := gateway.New(esClient, cache.NewResponseCache(cfg.Cache), slowQueryDetector, cfg.Search, logger)

	var reindexOpts []indexing.Option
	var lease *lock.RedisLease
	if cfg.Redis.Enabled() {
		lease, err = lock.NewRedisLease(cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis lease unavailable, reindex exclusion is local only", zap.Error(err))
			lease = nil
		} else {
			closers = append(closers, lease.Close)
			reindexOpts = append(reindexOpts, indexing.WithLease(lease))
		}
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled() {
		producer = kafka.NewProducer(cfg.Kafka, logger)
		closers = append(closers, producer.Close)
		reindexOpts = append(reindexOpts, indexing.WithObserver(producer))
	}
	if chClient != nil {
		reindexOpts = append(reindexOpts, indexing.WithObserver(chClient))
	}

	fetcher := catalog.NewHTTPFetcher(cfg.Catalog, logger)
	reindexer := indexing.NewReindexer(fetcher, esClient, logger, reindexOpts...)
	// Runs ahead of the producer and ClickHouse closers so pending run
	// notifications are delivered.
	closers = append(closers, func() error {
		reindexer.Wait()
		return nil
	})

	scheduler := indexing.NewScheduler(reindexer, cfg.Reindex, logger)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled() {
		consumer = kafka.NewConsumer(cfg.Kafka, scheduler, logger)
		if err := consumer.Start(ctx); err != nil {
			logger.Warn("kafka consumer start failed, catalog change triggers disabled", zap.Error(err))
			consumer = nil
		} else {
			closers = append(closers, consumer.Stop)
		}
	}

	handlerOpts := []api.HandlerOption{
		api.WithReindexWriteTimeout(cfg.Catalog.Timeout + cfg.Elasticsearch.BulkTimeout + cfg.Server.WriteTimeout),
	}
	if chClient != nil {
		handlerOpts = append(handlerOpts, api.WithRunHistory(chClient))
	}
	handler := api.NewHandler(gw, scheduler, logger, handlerOpts...)

	healthHandler := api.NewHealthHandler(logger)
	healthHandler.RegisterES(esClient)
	if lease != nil {
		healthHandler.Register("redis", lease)
	}
	if consumer != nil {
		healthHandler.Register("kafka", consumer)
	}
	if chClient != nil {
		healthHandler.Register("clickhouse", chClient)
	}

	router := api.NewRouter(handler, healthHandler, cfg.Server, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
		logger.Error("http server failed", zap.Error(serveErr))
	}

	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	shutdownErr := serveErr
	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownErr = multierr.Append(shutdownErr, fmt.Errorf("http server shutdown: %w", err))
	}

	// Stops the scheduler and the consumer; a pass already running finishes.
	cancel()
	<-schedulerDone

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			shutdownErr = multierr.Append(shutdownErr, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	logger.Info("shutdown complete")
	return shutdownErr
}
