package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"field-sync-service/internal/api"
	"field-sync-service/internal/auth"
	"field-sync-service/internal/catalog"
	"field-sync-service/internal/collect"
	"field-sync-service/internal/config"
	"field-sync-service/internal/gnss"
	"field-sync-service/internal/logger"
	"field-sync-service/internal/netwatch"
	"field-sync-service/internal/remote"
	"field-sync-service/internal/store"
	"field-sync-service/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting Field Sync Service")

	// Init Store
	sqlite, err := store.NewSQLiteStore(cfg.Storage)
	if err != nil {
		logger.Log.Fatal("Failed to init store", zap.Error(err))
	}
	defer sqlite.Close()
	st := store.NewCachedStore(sqlite, cfg.Storage.GetCacheTTL())

	// Init GNSS Monitor
	monitor := gnss.NewMonitor(cfg.GNSS)
	monitor.Start()

	readerCtx, stopReader := context.WithCancel(context.Background())
	defer stopReader()
	if cfg.GNSS.Device != "" {
		device, err := os.Open(cfg.GNSS.Device)
		if err != nil {
			logger.Log.Fatal("Failed to open GNSS device",
				zap.String("device", cfg.GNSS.Device), zap.Error(err))
		}
		defer device.Close()

		go func() {
			if err := monitor.RunReader(readerCtx, device); err != nil && readerCtx.Err() == nil {
				logger.Log.Warn("GNSS reader stopped", zap.Error(err))
			}
		}()
	}

	// Init Session
	session := auth.NewSession(cfg.Storage.TokenPath)
	if err := session.Load(); err != nil {
		logger.Log.Warn("Failed to restore session token", zap.Error(err))
	}

	// Init Remote Client and Connectivity Watcher
	client := remote.NewClient(cfg.Remote, session)
	watcher := netwatch.NewWatcher(client, cfg.Remote.GetProbeInterval())
	watcher.Start()

	// Init Sync Engine and Orchestrator
	engine := sync.NewEngine(st, client)
	gate := sync.NewGate(engine, session, st)
	orchestrator := sync.NewOrchestrator(cfg.Sync, engine, gate, watcher)
	orchestrator.Start()

	// Init Collector and Catalog
	collector := collect.NewCollector(st, monitor, engine.NoteLocalSave)
	catalogMgr := catalog.NewManager(st, client)

	// Init API
	handler := api.NewHandler(api.Deps{
		Store:        st,
		Monitor:      monitor,
		Collector:    collector,
		Engine:       engine,
		Gate:         gate,
		Orchestrator: orchestrator,
		Session:      session,
		Catalog:      catalogMgr,
		Remote:       client,
		Watcher:      watcher,
	})

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("Server shutdown failed", zap.Error(err))
	}

	orchestrator.Stop()
	watcher.Stop()
	stopReader()
	monitor.Stop()
}
