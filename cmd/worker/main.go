// Package main is the entry point for the concreterp background worker.
// It relays the transactional outbox: balance recalculations and deferred
// material transfers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"concreterp/internal/config"
	appctx "concreterp/internal/core/context"
	"concreterp/internal/domain/arkik"
	"concreterp/internal/infrastructure/storage/postgres"
	"concreterp/internal/infrastructure/storage/postgres/arkik_repo"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting concreterp worker")

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
	repo := arkik_repo.New(txm)
	dispatcher := NewDispatcher(repo, arkik.NewTransferService(repo, txm, nil))
	relay := postgres.NewOutboxRelay(txm, cfg.Worker.BatchSize, dispatcher)

	worker := NewWorker(relay, cfg.Worker.PollInterval, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Relay is the outbox relay as driven by the worker loop.
type Relay interface {
	ProcessBatch(ctx context.Context) (int, error)
	MoveToDLQ(ctx context.Context) (int64, error)
}

// Worker polls the outbox until its context is cancelled.
type Worker struct {
	relay        Relay
	pollInterval time.Duration
	dlqInterval  time.Duration
	log          *logger.Logger
}

// NewWorker creates the outbox polling loop.
func NewWorker(relay Relay, pollInterval time.Duration, log *logger.Logger) *Worker {
	return &Worker{
		relay:        relay,
		pollInterval: pollInterval,
		dlqInterval:  time.Minute,
		log:          log.WithComponent("worker"),
	}
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ctx = logger.WithLogger(ctx, w.log)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	dlqTicker := time.NewTicker(w.dlqInterval)
	defer dlqTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		case <-dlqTicker.C:
			w.moveToDLQ(ctx)
		}
	}
}

// poll keeps claiming batches while they make progress.
func (w *Worker) poll(ctx context.Context) {
	for ctx.Err() == nil {
		batchCtx := appctx.WithTrace(ctx, appctx.NewTraceContext())
		processed, err := w.relay.ProcessBatch(batchCtx)
		if err != nil {
			w.log.WithContext(batchCtx).Errorw("outbox batch failed", "error", err)
			return
		}
		if processed == 0 {
			return
		}
		w.log.WithContext(batchCtx).Debugw("processed outbox batch", "count", processed)
	}
}

func (w *Worker) moveToDLQ(ctx context.Context) {
	moved, err := w.relay.MoveToDLQ(ctx)
	if err != nil {
		w.log.Errorw("failed to move outbox messages to DLQ", "error", err)
		return
	}
	if moved > 0 {
		w.log.Warnw("moved failed outbox messages to DLQ", "count", moved)
	}
}
