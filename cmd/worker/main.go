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

	"github.com/rpattn/eventingest/internal/config"
	"github.com/rpattn/eventingest/internal/db"
	"github.com/rpattn/eventingest/internal/fetch"
	"github.com/rpattn/eventingest/internal/geocode"
	"github.com/rpattn/eventingest/internal/ingestion"
	"github.com/rpattn/eventingest/internal/jobs"
	"github.com/rpattn/eventingest/internal/logging"
	"github.com/rpattn/eventingest/internal/middleware"
	"github.com/rpattn/eventingest/internal/queue"
	"github.com/rpattn/eventingest/internal/quota"
	"github.com/rpattn/eventingest/internal/repository"
	"github.com/rpattn/eventingest/internal/repository/memrepo"
	"github.com/rpattn/eventingest/internal/scheduler"
	"github.com/rpattn/eventingest/internal/stagelock"
	"github.com/rpattn/eventingest/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	if file := cfg.File(); file != "" {
		logger.WithField("file", file).Info("configuration loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("worker exited with error")
	}
	logger.Info("worker exited")
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	var blobs storage.BlobStore = storage.NewMemory()
	if cfg.Storage.Blobs == "s3" {
		s3Store, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint,
			Prefix:   cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("failed to configure blob storage: %w", err)
		}
		blobs = s3Store
	}

	var source queue.Queue
	switch cfg.Queue.Backend {
	case "redis":
		source = queue.NewRedis(redisClient, cfg.Queue.Key)
	default:
		source = queue.NewMemory()
	}

	var locks stagelock.Locker = stagelock.NewMemory()
	if cfg.Lock.Backend == "redis" {
		locks = stagelock.NewRedis(redisClient, stagelock.WithTTL(cfg.Lock.TTL))
	}

	limits := quota.Limits{
		quota.KindURLImports: cfg.Quota.URLImportsPerDay,
		quota.KindFileBytes:  cfg.Quota.FileBytesPerDay,
	}
	var quotas quota.Service = quota.Unlimited{}
	switch cfg.Quota.Backend {
	case "memory":
		quotas = quota.NewMemory(limits)
	case "redis":
		quotas = quota.NewRedis(redisClient, limits)
	}

	var geocoder geocode.Geocoder
	if cfg.Geocoder.Enabled {
		geocoder = geocode.NewClient(
			geocode.WithBaseURL(cfg.Geocoder.BaseURL),
			geocode.WithAPIKey(cfg.Geocoder.APIKey),
			geocode.WithRateLimit(cfg.Geocoder.RequestsPerSecond),
			geocode.WithUserAgent(cfg.Fetch.UserAgent),
			geocode.WithLogger(logger),
		)
	}

	pipeline := jobs.NewPipeline(jobs.Deps{
		Store:    store,
		Blobs:    blobs,
		Queue:    source,
		Locks:    locks,
		Quota:    quotas,
		Geocoder: geocoder,
		Fetcher: fetch.NewClient(fetch.Config{
			MaxBytes:  cfg.Fetch.MaxFileSizeBytes,
			Timeout:   cfg.Fetch.Timeout,
			UserAgent: cfg.Fetch.UserAgent,
		}),
		Logger: logger,
		Options: jobs.Options{
			BatchSize:          cfg.Pipeline.BatchSize,
			GeocodeConcurrency: cfg.Pipeline.Concurrency,
		},
	})
	registry := jobs.NewRegistry(logger)
	pipeline.Register(registry)
	logger.WithField("tasks", registry.Types()).Info("task handlers registered")

	pool := queue.NewPool(source, registry.HandleMessage, queue.PoolConfig{
		Workers:     cfg.Pipeline.Concurrency,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Retryable:   jobs.Retryable,
	}, logger)

	sched, err := scheduler.New(scheduler.Config{
		CleanupCron:      cfg.Scheduler.CleanupCron,
		ScheduleScanCron: cfg.Scheduler.ScheduleScanCron,
		StaleJobAfter:    cfg.Scheduler.StaleJobAfter,
	}, store.Schedules, source, logger, scheduler.WithStaleJobFailer(pipeline))
	if err != nil {
		return fmt.Errorf("failed to configure scheduler: %w", err)
	}

	service, err := ingestion.NewService(ingestion.Config{
		Store:    store,
		Blobs:    blobs,
		Queue:    source,
		Approver: pipeline,
		Quota:    quotas,
		MaxBytes: cfg.Fetch.MaxFileSizeBytes,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build ingestion service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/", ingestion.NewHTTPHandler(service, logger))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(logger)(middleware.IdentityMiddleware(mux))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	pool.Start(workerCtx)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTP.Addr).Info("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("HTTP server stopped")
		}
	}

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server forced to shutdown")
	}

	// Workers finish their current task before returning.
	cancelWorkers()
	pool.Wait()
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*repository.Store, func(), error) {
	if cfg.Storage.Backend == "memory" {
		logger.Warn("using in-memory store; data is lost on exit")
		return memrepo.NewStore(), func() {}, nil
	}

	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(cfg.Database, logger); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repository.NewPostgresStore(conn.Pool), conn.Close, nil
}
