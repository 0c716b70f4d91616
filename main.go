package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"autotrader/config"
	"autotrader/internal/adapters/analysisclient"
	"autotrader/internal/adapters/brokerclient"
	"autotrader/internal/adapters/logger"
	"autotrader/internal/adapters/sqlite"
	"autotrader/internal/api"
	"autotrader/internal/app"
	"autotrader/internal/events"
	"autotrader/internal/intake"
	"autotrader/internal/reconcile"
	"autotrader/internal/scheduler"
	"autotrader/internal/settings"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.ParseLevel(cfg.LogLevel))
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Broker Gateway Client
	broker, err := brokerclient.New(brokerclient.Config{
		BaseURL: cfg.BrokerBaseURL,
		Timeout: cfg.BrokerTimeout,
		Logger:  appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize broker client: %v", err)
	}

	// 5. Initialize Analysis Service Client
	analyzer, err := analysisclient.New(analysisclient.Config{
		BaseURL: cfg.AnalysisBaseURL,
		Timeout: cfg.AnalysisTimeout,
		Logger:  appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize analysis client: %v", err)
	}

	// 6. Event Bus and Sinks
	bus := events.NewBus()
	defer bus.Close()
	bus.Subscribe(events.LedgerSink(repo, appLogger))
	bus.Subscribe(events.LogSink(appLogger))

	// 7. Settings Store (loads persisted record, seeds defaults on first run)
	store, err := settings.NewStore(context.Background(), repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize settings store: %v", err)
	}

	// 8. Core Components
	pipeline, err := intake.New(store, broker, repo, analyzer, bus, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize intake pipeline: %v", err)
	}
	engine, err := reconcile.New(broker, repo, bus, analyzer, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize reconciliation engine: %v", err)
	}
	closer, err := scheduler.New(scheduler.Config{
		Venue:      cfg.VenueTimeZone,
		CutoffHour: cfg.EODCutoffHour,
		CutoffMin:  cfg.EODCutoffMin,
	}, store, broker, repo, bus, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize EOD scheduler: %v", err)
	}

	// 9. Application Service
	service, err := app.NewAutoTradeService(appLogger, store, pipeline, engine, closer, repo, repo)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize auto-trade service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service.Start(ctx)
	defer service.Stop()

	// 10. HTTP Surface
	server := api.NewServer(service, appLogger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(cfg.ListenAddr)
	}()
	appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": cfg.ListenAddr})

	select {
	case err := <-errCh:
		if err != nil {
			appLogger.Error(ctx, err, "HTTP server terminated")
		}
	case <-ctx.Done():
		appLogger.Info(context.Background(), "Shutdown signal received, stopping")
	}
}
