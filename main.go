package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stepsync/internal/backfill"
	"stepsync/internal/config"
	"stepsync/internal/database"
	"stepsync/internal/fitbit"
	"stepsync/internal/handlers"
	"stepsync/internal/metrics"
	"stepsync/internal/middleware"
	"stepsync/internal/poller"
	"stepsync/internal/reconcile"
	"stepsync/internal/subscriptions"
	"stepsync/internal/tokens"
	"stepsync/internal/worker"
)

func main() {
	// Define CLI flags
	listSubs := flag.Bool("list-subscriptions", false, "List active Fitbit subscriptions for an account")
	subscribe := flag.Bool("subscribe", false, "Create a Fitbit webhook subscription for an account")
	unsubscribe := flag.Bool("unsubscribe", false, "Delete the Fitbit webhook subscriptions of an account")
	syncSubs := flag.Bool("sync-subscriptions", false, "Deactivate stored subscriptions missing upstream for an account")
	accountID := flag.Int64("account-id", 0, "Linked account identifier for subscription commands")

	flag.Parse()

	// Check if any CLI command was requested
	if *listSubs || *subscribe || *unsubscribe || *syncSubs {
		runCLI(*listSubs, *subscribe, *unsubscribe, *syncSubs, *accountID)
		return
	}

	// Otherwise, start the server
	runServer()
}

func runCLI(listSubs, subscribe, unsubscribe, syncSubs bool, accountID int64) {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if accountID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -account-id is required")
		os.Exit(1)
	}

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	account, err := db.GetAccountByID(accountID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load account: %v\n", err)
		os.Exit(1)
	}
	if account == nil {
		fmt.Fprintf(os.Stderr, "Error: No linked account with id %d\n", accountID)
		os.Exit(1)
	}

	client := fitbit.NewClient(cfg)
	tokenCache := tokens.NewCache(db, client)
	service := subscriptions.NewService(db, client, tokenCache)

	ctx := context.Background()

	switch {
	case listSubs:
		handleListSubscriptions(db, accountID)
	case subscribe:
		sub, err := service.Subscribe(ctx, account)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to subscribe: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ Subscription created successfully!")
		fmt.Printf("  ID: %s\n", sub.SubscriptionID)
	case unsubscribe:
		if err := service.Unsubscribe(ctx, account); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to unsubscribe: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ Subscriptions deleted successfully!")
	case syncSubs:
		if err := service.Sync(ctx, account); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to sync subscriptions: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ Subscriptions synced with Fitbit")
	}
}

func handleListSubscriptions(db *database.DB, accountID int64) {
	subs, err := db.ListActiveSubscriptions(accountID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list subscriptions: %v\n", err)
		os.Exit(1)
	}

	if len(subs) == 0 {
		fmt.Println("No active subscriptions found.")
		return
	}

	fmt.Printf("Found %d subscription(s):\n\n", len(subs))
	for _, sub := range subs {
		fmt.Printf("ID: %s\n", sub.SubscriptionID)
		fmt.Printf("  Collection: %s\n", sub.CollectionType)
		fmt.Printf("  Created: %s\n", sub.CreatedAt.Format(time.RFC3339))
		fmt.Println()
	}
}

func runServer() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting stepsync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	// Wire the sync pipeline
	client := fitbit.NewClient(cfg)
	tokenCache := tokens.NewCache(db, client)
	engine := reconcile.NewEngine(db)
	processor := worker.NewProcessor(db, client, tokenCache, engine)
	backfiller := backfill.NewOrchestrator(db, client, tokenCache, engine, cfg)

	// Create handlers
	webhookHandler := handlers.NewWebhookHandler(db, cfg)
	internalHandler := handlers.NewInternalHandler(db, backfiller, cfg)

	// Set up HTTP routes
	mux := http.NewServeMux()

	mux.HandleFunc("/fitbit/webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// GET = subscriber verification
			middleware.WrapHandler(metrics.EndpointWebhookVerify, webhookHandler.HandleVerification).ServeHTTP(w, r)
		} else if r.Method == http.MethodPost {
			// POST = notification batch
			middleware.WrapHandler(metrics.EndpointWebhookNotify, webhookHandler.HandleNotification).ServeHTTP(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Internal API endpoints
	mux.Handle("/internal/backfill", middleware.WrapHandler(metrics.EndpointBackfill, internalHandler.HandleBackfill))
	mux.Handle("/internal/backfill-status", middleware.WrapHandler(metrics.EndpointBackfillCheck, internalHandler.HandleBackfillStatus))

	// Health check endpoint
	mux.Handle("/health", middleware.WrapHandler(metrics.EndpointHealth, internalHandler.HandleHealth))

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start job worker in background
	workerInstance := worker.NewWorker(db, processor, cfg)
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go func() {
		logger.Info("Starting job worker")
		if err := workerInstance.Start(bgCtx); err != nil && err != context.Canceled {
			logger.Error("Job worker failed", "error", err)
		}
	}()

	// Start the hourly fallback poller in background
	pollerInstance := poller.NewPoller(db, client, tokenCache, engine, cfg)
	go func() {
		logger.Info("Starting scheduled poller")
		if err := pollerInstance.Start(bgCtx); err != nil && err != context.Canceled {
			logger.Error("Scheduled poller failed", "error", err)
		}
	}()

	// Start queue depth collector if metrics are enabled
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting queue depth collector")
			metrics.StartQueueDepthCollector(bgCtx, db, 15*time.Second)
		}()
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	// Stop background loops
	bgCancel()

	// Shutdown HTTP servers with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
