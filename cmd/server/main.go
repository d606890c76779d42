// Package main is the entry point for the concreterp API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"concreterp/db"
	"concreterp/internal/config"
	"concreterp/internal/core/lock"
	"concreterp/internal/domain/arkik"
	"concreterp/internal/domain/inventory/fifo"
	"concreterp/internal/infrastructure/auth"
	"concreterp/internal/infrastructure/cache"
	v1 "concreterp/internal/infrastructure/http/v1"
	"concreterp/internal/infrastructure/http/v1/handlers"
	"concreterp/internal/infrastructure/idempotency"
	redislock "concreterp/internal/infrastructure/lock"
	"concreterp/internal/infrastructure/metrics"
	"concreterp/internal/infrastructure/numerator"
	"concreterp/internal/infrastructure/storage/postgres"
	"concreterp/internal/infrastructure/storage/postgres/arkik_repo"
	"concreterp/internal/infrastructure/storage/postgres/fifo_repo"
	"concreterp/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("APP_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log.WithComponent("server"))
	log.Infow("starting concreterp server", "env", cfg.App.Env)

	// --- Database ---
	if cfg.Postgres.Migrate {
		if err := db.Migrate(ctx, cfg.Postgres.DSN); err != nil {
			log.Fatalw("failed to migrate database", "error", err)
		}
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.Postgres.DSN)
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.MinConns = cfg.Postgres.MinConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txm := postgres.NewTxManager(pool)
	txm.SetStatementTimeout(cfg.FIFO.StatementTimeout)

	healthChecks := map[string]handlers.Pinger{"postgres": pool}

	// --- Redis (optional) ---
	var (
		locker      lock.Locker
		idemStore   *idempotency.Store
		redisClient *redis.Client
	)
	if cfg.RedisEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalw("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		}
		locker = redislock.NewRedisLocker(redisClient)
		idemStore = idempotency.NewStore(redisClient, cfg.Idempotency.TTL)
		healthChecks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		log.Infow("redis connected", "addr", cfg.Redis.Addr)
	} else {
		log.Warn("redis not configured: allocation locks are in-database only, idempotency keys disabled")
	}

	// --- Metrics ---
	var m *metrics.Metrics
	fifoOpts := []fifo.Option{fifo.WithLocker(locker, cfg.FIFO.LockTTL)}
	orderOpts := []arkik.OrderCreatorOption{}
	var transferObserver arkik.TransferObserver
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.RegisterPool(pool.Pool)
		fifoOpts = append(fifoOpts, fifo.WithObserver(m))
		orderOpts = append(orderOpts, arkik.WithOrderObserver(m))
		transferObserver = m
	}

	// --- Services ---
	audit, err := postgres.NewAuditService(txm)
	if err != nil {
		log.Fatalw("failed to create audit service", "error", err)
	}
	fifoOpts = append(fifoOpts, fifo.WithAuditor(audit))
	fifoService := fifo.NewService(fifo_repo.New(txm), txm, fifoOpts...)

	arkikRepo := arkik_repo.New(txm)
	materials := cache.NewMaterialCache(pool.Pool, arkikRepo)
	if err := materials.Start(ctx); err != nil {
		log.Fatalw("failed to start material cache", "error", err)
	}
	defer materials.Stop()
	arkikRepo.UseMaterialCache(materials)
	numbers := numerator.NewFromQuerierFunc(func(ctx context.Context) numerator.Querier {
		return txm.GetQuerier(ctx)
	})
	outbox := postgres.NewOutboxPublisher(txm)

	persistence := arkik.NewPersistence(arkikRepo, txm)
	transfers := arkik.NewTransferService(arkikRepo, txm, transferObserver)
	orders := arkik.NewOrderCreator(arkikRepo, numbers, txm, outbox, orderOpts...)

	// --- Auth ---
	var validator *auth.JWTService
	if cfg.Auth.Enabled {
		validator = auth.NewJWTService(auth.DefaultJWTConfig(cfg.Auth.JWTSecret))
	} else {
		log.Warn("authentication disabled: requests run as the system user")
	}

	// --- Router ---
	routerCfg := v1.RouterConfig{
		Logger:            log,
		Debug:             cfg.IsDevelopment(),
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		Metrics:           m,
		HealthChecks:      healthChecks,
		FIFO:              fifoService,
		AllocationHistory: audit,
		Arkik:             persistence,
		Orders:            orders,
		Transfers:         transfers,
		TransferQueue:     outbox,
		Idempotency:       idemStore,
	}
	if validator != nil {
		routerCfg.JWTValidator = validator
	}
	router, err := v1.NewRouter(routerCfg)
	if err != nil {
		log.Fatalw("failed to build router", "error", err)
	}

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
