package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopflow/printbridge/internal/config"
	"github.com/shopflow/printbridge/internal/database"
	"github.com/shopflow/printbridge/internal/dispatch"
	"github.com/shopflow/printbridge/internal/handlers"
	"github.com/shopflow/printbridge/internal/history"
	"github.com/shopflow/printbridge/internal/ingest"
	"github.com/shopflow/printbridge/internal/kvstore"
	"github.com/shopflow/printbridge/internal/liveness"
	"github.com/shopflow/printbridge/internal/marketplace"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/queue"
	"github.com/shopflow/printbridge/internal/utils"
	ws "github.com/shopflow/printbridge/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.UserAuth{},
		&models.Shop{},
		&models.Order{},
		&models.Printer{},
		&models.Template{},
		&models.PrintJob{},
		&models.PrintHistoryEvent{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Shared services
	encKey, err := utils.ParseKey(cfg.EncKey)
	if err != nil {
		log.Fatalf("Invalid ENC_KEY: %v", err)
	}

	var states kvstore.Store
	if cfg.RedisURL != "" {
		redisStates, err := kvstore.NewRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		states = redisStates
		log.Println("✅ Redis state store connected")
	} else {
		memory := kvstore.NewMemory()
		defer memory.Close()
		states = memory
		log.Println("📝 Using in-memory state store")
	}

	market := marketplace.NewClient(cfg.Marketplace)
	hist := history.NewLogger(db.DB)
	store := queue.NewStore(db.DB, hist, cfg.Pipeline.MaxRetries)
	completion := queue.NewCompletion(store, cfg.Pipeline.RetryBackoff)
	tracker := liveness.NewTracker(db.DB, cfg.Pipeline.DispatchWindow)
	adapter := ingest.NewAdapter(db.DB, store)

	// 5. Printer agent websocket hub
	hub := ws.NewHub(handlers.NewAgentAuth(db, cfg.JWTSecret), tracker, completion, cfg.Pipeline.PushTimeout)
	go hub.Run()

	// 6. Background pipeline workers
	ctx, stopWorkers := context.WithCancel(context.Background())

	poller := ingest.NewPoller(db.DB, market, adapter, encKey, cfg.Pipeline.PollPageSize)
	go poller.Run(ctx, cfg.Pipeline.PollInterval)
	log.Printf("✅ Order poller started (every %s)", cfg.Pipeline.PollInterval)

	dispatcher := dispatch.New(db.DB, store, completion, hub, tracker, dispatch.Config{
		Batch:    cfg.Pipeline.DispatchBatch,
		JobDelay: cfg.Pipeline.DispatchJobDelay,
		Window:   cfg.Pipeline.DispatchWindow,
	})
	go dispatcher.Run(ctx, cfg.Pipeline.DispatchInterval)
	log.Printf("✅ Dispatcher started (every %s)", cfg.Pipeline.DispatchInterval)

	go func() {
		ticker := time.NewTicker(cfg.Pipeline.StaleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := completion.SweepStale(ctx, cfg.Pipeline.StaleAfter); err != nil {
					log.Printf("⚠️ Stale sweep: %v", err)
				}
			}
		}
	}()
	log.Printf("✅ Stale job sweep started (every %s)", cfg.Pipeline.StaleSweepInterval)

	go tracker.Run(ctx, cfg.Pipeline.LivenessInterval)
	log.Printf("✅ Liveness sweep started (every %s)", cfg.Pipeline.LivenessInterval)

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Pipeline.RetentionDays)
				if _, err := store.CleanupTerminal(ctx, cutoff); err != nil {
					log.Printf("⚠️ Cleanup: %v", err)
				}
			}
		}
	}()
	log.Printf("✅ Retention cleanup started (%d days)", cfg.Pipeline.RetentionDays)

	// 7. HTTP router
	router := handlers.NewRouter(handlers.Deps{
		DB:         db,
		Cfg:        cfg,
		Store:      store,
		Completion: completion,
		Adapter:    adapter,
		Market:     market,
		Hub:        hub,
		States:     states,
		History:    hist,
		Tracker:    tracker,
		Poller:     poller,
		EncKey:     encKey,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	// Stop background workers first so nothing claims new jobs mid-shutdown
	stopWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
