package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"bi-compliance-backend/config"
	"bi-compliance-backend/internal/api"
	"bi-compliance-backend/internal/db"
	"bi-compliance-backend/internal/ingest"
	"bi-compliance-backend/internal/notification"
	"bi-compliance-backend/internal/quarantine"
	"bi-compliance-backend/internal/realtime"
	"bi-compliance-backend/internal/store"
	"bi-compliance-backend/internal/workflow"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "bi-compliance ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	hub := realtime.NewHub()
	go hub.Run(ctx)

	// Push is optional; banners still reach connected clients without it.
	var webpushOptions *webpush.Options
	var pool *notification.WorkerPool
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool = notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, webpushOptions)
		pool.Start(ctx)
	} else {
		logger.Println("VAPID keys are not configured; web push notifications are disabled")
	}

	quarantineSvc := quarantine.NewService(appStore, cfg.Quarantine.CacheTTL, cfg.Quarantine.Timeout)
	machine := workflow.NewMachine(quarantineSvc, appStore, notification.NewBroadcaster(hub, pool), workflow.Options{
		Location: cfg.Facility.Location,
	})

	// Poll the sterilizer log feed in the background
	ingestSvc := ingest.NewService(&cfg.Ingest, appStore)
	go ingestSvc.Run(ctx)

	// Initialize router
	handler := api.NewHandler(api.Options{
		Store:            appStore,
		Machine:          machine,
		Quarantine:       quarantineSvc,
		Hub:              hub,
		WebPush:          webpushOptions,
		ActivationsLimit: cfg.Quarantine.ActivationsLimit,
	})
	router := api.NewRouter(handler, rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}
	cancel()

	logger.Println("Server gracefully stopped")
}
