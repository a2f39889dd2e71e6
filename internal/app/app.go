package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/deal-escrow/internal/api"
	"github.com/ayo6706/deal-escrow/internal/api/handler"
	"github.com/ayo6706/deal-escrow/internal/api/middleware"
	"github.com/ayo6706/deal-escrow/internal/config"
	"github.com/ayo6706/deal-escrow/internal/db"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/gateway"
	"github.com/ayo6706/deal-escrow/internal/idempotency"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/ayo6706/deal-escrow/internal/notify"
	"github.com/ayo6706/deal-escrow/internal/observability"
	"github.com/ayo6706/deal-escrow/internal/repository"
	"github.com/ayo6706/deal-escrow/internal/service"
	"github.com/ayo6706/deal-escrow/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName      = "deal-escrow"
	bootstrapAdminID = "admin"
)

// escrowStore is implemented by both persistence drivers.
type escrowStore interface {
	service.Store
	api.UserStore
}

// backend is the persistence selected by STORE_DRIVER.
type backend struct {
	store       escrowStore
	pinger      handler.Pinger
	idempotency *idempotency.Store
	close       func()
}

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	var redisClient redis.Cmdable
	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		redisClient = client
	}

	be, err := openBackend(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer be.close()

	var notifier service.Notifier = notify.NewLogNotifier(logger)
	if redisClient != nil {
		notifier = notify.NewRedisNotifier(redisClient, cfg.NotificationChannel)
	}
	dispatcher := service.NewDispatcher(notifier)

	mockGateway := gateway.NewMockGateway()
	mockGateway.FailureRate = cfg.GatewayFailureRate

	orchestrator := service.NewOrchestrator(be.store, be.store, mockGateway).
		WithRetryPolicy(service.RetryPolicy{
			Base:       cfg.RetryBackoffBase,
			Max:        cfg.RetryBackoffMax,
			MaxRetries: cfg.MaxPaymentRetries,
		}).
		WithMaxAttempts(cfg.MaxCommitAttempts)

	retryWorker := worker.NewRetryWorker(orchestrator, dispatcher).
		WithPollInterval(cfg.RetryPollInterval).
		WithBatchSize(cfg.RetryBatchSize)
	inspectionWorker := worker.NewInspectionWorker(orchestrator, dispatcher).
		WithInterval(cfg.InspectionPollInterval)

	router := api.NewRouter(cfg, logger, be.store, be.pinger, be.idempotency, redisClient, orchestrator, dispatcher)
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		retryWorker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		inspectionWorker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		retryWorker.Stop()
		inspectionWorker.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, redisClient redis.Cmdable) (*backend, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		zap.L().Warn("using in-memory store; state is lost on restart")
		store := repository.NewMemoryStore()
		// Seed an operator so users can be synced through the admin API.
		if err := store.PutUser(ctx, &models.User{
			ID:        bootstrapAdminID,
			Name:      "Operator",
			Role:      domain.UserRoleAdmin,
			KYCStatus: domain.KYCApproved,
		}); err != nil {
			return nil, fmt.Errorf("seed operator: %w", err)
		}
		return &backend{
			store:       store,
			idempotency: idempotency.NewMemoryStore(redisClient, cfg.IdempotencyTTL),
			close:       func() {},
		}, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	store := repository.NewPostgresStore(pool)
	return &backend{
		store:       store,
		pinger:      store,
		idempotency: idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL),
		close:       pool.Close,
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
