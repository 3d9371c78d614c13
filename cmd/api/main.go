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

	"github.com/jwebster45206/troupe/internal/config"
	"github.com/jwebster45206/troupe/internal/handlers"
	"github.com/jwebster45206/troupe/internal/logger"
	"github.com/jwebster45206/troupe/internal/metrics"
	"github.com/jwebster45206/troupe/internal/middleware"
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

	log := logger.Setup(cfg, "api")

	log.Info("Starting Troupe API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName)

	collector := metrics.NewCollector()

	llmService, err := services.NewLLMFromConfig(cfg, collector, log)
	if err != nil {
		log.Error("Failed to create LLM service", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewRedisStorage(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create storage", "error", err)
		os.Exit(1)
	}
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if err := store.WaitForConnection(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage connection established successfully")

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer initCancel()
	if err := llmService.InitModel(initCtx, cfg.ModelName); err != nil {
		log.Error("Failed to initialize LLM model", "error", err, "model", cfg.ModelName)
		os.Exit(1)
	}

	rdb := store.Client()
	turnQueue := queue.NewTurnQueue(queue.NewClientFromRedis(rdb, log))
	broadcaster := events.NewBroadcaster(rdb, log)
	locker := worker.NewRedisLocker(rdb, "api-"+cfg.Port, log).WithTTL(cfg.LockTTL())
	processor := worker.NewTurnProcessor(store, llmService, locker, broadcaster, collector, log)
	processor.GenerationBudget = cfg.GenerationBudget()

	mux := http.NewServeMux()

	mux.Handle("/health", handlers.NewHealthHandler(store, log))
	mux.Handle("/metrics", collector.Handler())

	charactersHandler := handlers.NewCharactersHandler(store, log)
	mux.Handle("/v1/characters", charactersHandler)
	mux.Handle("/v1/characters/", charactersHandler)

	locationsHandler := handlers.NewLocationsHandler(store, log)
	mux.Handle("/v1/locations", locationsHandler)
	mux.Handle("/v1/locations/", locationsHandler)

	mux.Handle("/v1/settings", handlers.NewSettingsHandler(store, log))
	mux.Handle("/v1/world/", handlers.NewWorldHandler(store, log))
	mux.Handle("/v1/history/", handlers.NewHistoryHandler(store, log))
	mux.Handle("/v1/chat/", handlers.NewChatHandler(processor, turnQueue, broadcaster, store, log))
	mux.Handle("/v1/events/", handlers.NewEventsHandler(broadcaster, log))

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     middleware.Logger(mux),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: synchronous turns and SSE streams outlive it.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Server exited")
}
