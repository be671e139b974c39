package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"galaxion/sync/internal/ai"
	"galaxion/sync/internal/broadcast"
	"galaxion/sync/internal/clock"
	"galaxion/sync/internal/config"
	"galaxion/sync/internal/eventstore"
	"galaxion/sync/internal/journal"
	"galaxion/sync/internal/logging"
	"galaxion/sync/internal/processor"
	"galaxion/sync/internal/queue"
	"galaxion/sync/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("invalid configuration", logging.Error(err))
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logging.L().Fatal("logger initialisation failed", logging.Error(err))
	}
	defer logger.Sync()

	//1.- Persistence: SQLite when a path is configured, in-memory otherwise.
	var backend eventstore.Backend
	if cfg.EventStorePath != "" {
		sqlite, err := eventstore.OpenSQLite(cfg.EventStorePath)
		if err != nil {
			logger.Fatal("event store open failed",
				logging.String("path", cfg.EventStorePath),
				logging.Error(err))
		}
		backend = sqlite
		logger.Info("event store ready", logging.String("path", cfg.EventStorePath))
	} else {
		backend = eventstore.NewMemoryBackend()
		logger.Warn("no SYNC_DB_PATH configured, events will not survive restarts")
	}

	store := eventstore.New(backend,
		eventstore.WithPublishTimeout(cfg.PublishTimeout),
		eventstore.WithLogger(logger))
	defer store.Close()

	tuning, err := ai.LoadTuning(cfg.AITuningPath)
	if err != nil {
		logger.Fatal("ai tuning load failed",
			logging.String("path", cfg.AITuningPath),
			logging.Error(err))
	}

	manager := session.NewManager(store, session.WithManagerLogger(logger))
	commandQueue := queue.New(0)
	hub := NewHub(cfg.AllowedOrigins, cfg.PingInterval, cfg.MaxPayloadBytes, logger)

	pipelineOpts := []broadcast.Option{
		broadcast.WithSendTimeout(cfg.BroadcastTimeout),
		broadcast.WithLogger(logger),
	}
	if cfg.JournalDir != "" {
		writer, manifest, err := journal.NewWriter(cfg.JournalDir, "events", time.Now)
		if err != nil {
			logger.Fatal("journal open failed",
				logging.String("dir", cfg.JournalDir),
				logging.Error(err))
		}
		defer writer.Close()
		pipelineOpts = append(pipelineOpts, broadcast.WithJournal(writer))
		logger.Info("audit journal ready",
			logging.String("dir", writer.Directory()),
			logging.String("events", manifest.EventsPath))
	}
	pipeline := broadcast.New(hub, pipelineOpts...)
	unsubscribe := store.Subscribe(pipeline.HandleEnvelope)
	defer unsubscribe()

	clk := clock.New(cfg.TickRate, clock.WithLogger(logger))
	scheduler := ai.NewScheduler(manager, commandQueue, cfg.TickRate,
		ai.WithSchedulerLogger(logger))
	proc := processor.New(commandQueue, manager, store, pipeline,
		processor.WithLogger(logger),
		processor.WithSnapshotEvery(cfg.SnapshotEvery))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//2.- Subscriptions are taken before the clock starts so no tick is missed.
	ticks := clk.Subscribe(64)

	var workers sync.WaitGroup
	workers.Add(3)
	go func() {
		defer workers.Done()
		clk.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		scheduler.Run(ctx, ticks)
	}()
	go func() {
		defer workers.Done()
		proc.Run(ctx)
	}()

	server := NewServer(cfg, logger, manager, commandQueue, scheduler, tuning, clk, hub)
	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: server.Routes(),
	}
	go func() {
		logger.Info("sync server listening",
			logging.String("address", cfg.Address),
			logging.Int("tick_rate", cfg.TickRate))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", logging.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested",
		logging.Duration("grace", cfg.ShutdownGrace))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	hub.Shutdown()

	//3.- Give in-flight drains the grace period, then leave rather than hang.
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("all workers stopped")
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn("shutdown grace elapsed with workers still running, abandoning in-flight work")
	}
}
