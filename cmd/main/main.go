package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/denkuservices/denku-mvp-sub000/internal/artifact"
	"github.com/denkuservices/denku-mvp-sub000/internal/config"
	"github.com/denkuservices/denku-mvp-sub000/internal/healthcheck"
	"github.com/denkuservices/denku-mvp-sub000/internal/ingestion"
	"github.com/denkuservices/denku-mvp-sub000/internal/jetstream"
	"github.com/denkuservices/denku-mvp-sub000/internal/lease"
	"github.com/denkuservices/denku-mvp-sub000/internal/normalizer"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
	"github.com/denkuservices/denku-mvp-sub000/internal/usecase"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

const (
	serviceVersion  = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting call events service",
		zap.String("environment", cfg.Environment),
		zap.String("lease_backend", cfg.Lease.Backend),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
	)

	postgresRepo, err := initPostgresRepo(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	calls := storage.NewCallRepoAdapter(postgresRepo)
	directory := storage.NewDirectoryRepoAdapter(postgresRepo)
	artifacts := storage.NewArtifactRepoAdapter(postgresRepo)
	rejections := storage.NewRejectionRepoAdapter(postgresRepo)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	leases, err := initLeaseManager(cfg, postgresRepo, directory, redisClient)
	if err != nil {
		logger.Log.Fatal("Failed to initialize lease manager", zap.Error(err))
	}

	var tool artifact.ToolInvoker
	if cfg.Tool.URL != "" {
		tool = artifact.NewHTTPToolInvoker(cfg.Tool.URL, cfg.Tool.APIKey, cfg.Tool.Timeout)
		logger.Log.Info("Ticket tool endpoint configured", zap.Duration("timeout", cfg.Tool.Timeout))
	}

	var (
		jsClient  *jetstream.Client
		publisher usecase.FinalizedPublisher
	)
	if cfg.NATS.Enabled {
		jsClient, err = initJetStreamClient(cfg)
		if err != nil {
			logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
		}
		publisher = jetstream.NewFinalizedPublisher(jsClient, cfg.NATS.Subject)
	}

	anomalyWorker, err := usecase.NewAnomalyWorker(cfg.WorkerPools.Anomaly, calls, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize anomaly worker pool", zap.Error(err))
	}

	service := usecase.NewCallService(cfg, usecase.Dependencies{
		Normalizer: normalizer.New(cfg.Phone.DefaultRegion),
		Calls:      calls,
		Directory:  directory,
		Artifacts:  artifacts,
		Rejections: rejections,
		Leases:     leases,
		Guarantee:  artifact.NewGuarantee(artifacts, tool),
		Publisher:  publisher,
		Anomaly:    anomalyWorker,
	})

	webhookServer := ingestion.NewServer(cfg, service, logger.Log)

	healthServer := healthcheck.NewServer(cfg.Metrics.Port, serviceVersion, logger.Log)
	healthServer.AddCheck("postgres", postgresRepo)
	if redisClient != nil {
		healthServer.AddCheck("redis", healthcheck.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(webhookServer.Start)
	g.Go(healthServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutdown requested", zap.NamedError("cause", context.Cause(gctx)))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdown(shutdownCtx, webhookServer, healthServer, anomalyWorker, postgresRepo, redisClient, jsClient)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Log.Error("Service stopped with error", zap.Error(err))
	}
	logger.Log.Info("Call events service shutdown complete")
}

// shutdown stops the webhook server first so no delivery is cut mid-way,
// then the workers and connections.
func shutdown(ctx context.Context, webhookServer *ingestion.Server, healthServer *healthcheck.Server, anomalyWorker *usecase.AnomalyWorker, postgresRepo *storage.PostgresRepo, redisClient *redis.Client, jsClient *jetstream.Client) {
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	start := time.Now()
	if err := webhookServer.Stop(ctx); err != nil {
		logger.Log.Error("[shutdown] Error stopping webhook server", zap.Error(err))
	} else {
		logger.Log.Info("[shutdown] Webhook server stopped", zap.Duration("duration", time.Since(start)))
	}

	var wg sync.WaitGroup
	stopComponent := func(name string, fn func()) {
		utils.SafeGoTracked(&wg, func() {
			start := time.Now()
			fn()
			logger.Log.Info("[shutdown] Component stopped", zap.String("component", name), zap.Duration("duration", time.Since(start)))
		}, func(r interface{}, stack []byte) {
			logger.Log.Error("[shutdown] Panic while stopping component",
				zap.String("component", name),
				zap.Any("panic", r),
				zap.ByteString("stack", stack),
			)
		})
	}

	stopComponent("health_server", func() {
		if err := healthServer.Stop(ctx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		}
	})
	stopComponent("anomaly_worker", anomalyWorker.Stop)
	stopComponent("connections", func() {
		if jsClient != nil {
			jsClient.Close()
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Log.Error("[shutdown] Failed to close Redis client", zap.Error(err))
			}
		}
		if err := postgresRepo.Close(ctx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		}
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-ctx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}
}

func initPostgresRepo(cfg *config.Config) (*storage.PostgresRepo, error) {
	if cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Database.PostgresSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

func initLeaseManager(cfg *config.Config, postgresRepo *storage.PostgresRepo, directory storage.DirectoryRepo, redisClient *redis.Client) (lease.Manager, error) {
	switch cfg.Lease.Backend {
	case config.LeaseBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("lease backend %q requires redis.addr", cfg.Lease.Backend)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		logger.Log.Info("Using Redis lease backend", zap.String("addr", cfg.Redis.Addr))
		return lease.NewRedisManager(redisClient, directory), nil
	default:
		logger.Log.Info("Using Postgres lease backend")
		return lease.NewPostgresManager(storage.NewLeaseRepoAdapter(postgresRepo)), nil
	}
}

// initJetStreamClient connects to NATS and makes sure the finalized-call
// stream exists.
func initJetStreamClient(cfg *config.Config) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.SetupStream(ctx, jetstream.FinalizedStreamConfig(cfg.NATS.Stream, cfg.NATS.Subject)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set up stream %s: %w", cfg.NATS.Stream, err)
	}
	return client, nil
}
