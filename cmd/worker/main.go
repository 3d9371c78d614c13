package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/troupe/internal/config"
	"github.com/jwebster45206/troupe/internal/logger"
	"github.com/jwebster45206/troupe/internal/metrics"
	"github.com/jwebster45206/troupe/internal/services"
	"github.com/jwebster45206/troupe/internal/services/events"
	"github.com/jwebster45206/troupe/internal/services/queue"
	"github.com/jwebster45206/troupe/internal/storage"
	"github.com/jwebster45206/troupe/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg, "worker")

	log.Info("Starting Troupe Worker",
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"metrics_port", cfg.MetricsPort)

	collector := metrics.NewCollector()

	store, err := storage.NewRedisStorage(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing storage connection", "error", err)
		}
	}()
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if err := store.WaitForConnection(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage service initialized successfully")

	llmService, err := services.NewLLMFromConfig(cfg, collector, log)
	if err != nil {
		log.Error("Failed to create LLM service", "error", err)
		os.Exit(1)
	}
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer initCancel()
	if err := llmService.InitModel(initCtx, cfg.ModelName); err != nil {
		log.Error("Failed to initialize LLM model", "error", err, "model", cfg.ModelName)
		os.Exit(1)
	}
	log.Info("LLM service initialized successfully", "model", cfg.ModelName)

	rdb := store.Client()
	turnQueue := queue.NewTurnQueue(queue.NewClientFromRedis(rdb, log))
	broadcaster := events.NewBroadcaster(rdb, log)

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}
	locker := worker.NewRedisLocker(rdb, workerID, log).WithTTL(cfg.LockTTL())
	processor := worker.NewTurnProcessor(store, llmService, locker, broadcaster, collector, log)
	processor.GenerationBudget = cfg.GenerationBudget()
	w := worker.New(turnQueue, processor, broadcaster, collector, log, workerID)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           collector.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Start(gctx)
	})
	g.Go(func() error {
		log.Info("Metrics server starting", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Worker shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	log.Info("Worker started, waiting for requests...", "worker_id", w.ID())
	if err := g.Wait(); err != nil {
		log.Error("Worker error", "error", err)
		os.Exit(1)
	}
	log.Info("Worker exited")
}
