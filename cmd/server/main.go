package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"pulsecrm/backend/internal/actions"
	"pulsecrm/backend/internal/ai"
	"pulsecrm/backend/internal/api"
	"pulsecrm/backend/internal/auth"
	"pulsecrm/backend/internal/config"
	"pulsecrm/backend/internal/contextbuilder"
	"pulsecrm/backend/internal/engine"
	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/mcp"
	"pulsecrm/backend/internal/queue"
	"pulsecrm/backend/internal/repository"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.NewLoggerWithLevel(cfg.LogLevel)
	logger.Info("Starting PulseCRM automation service", "environment", cfg.Environment)

	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	if err := repository.EnsureSchema(ctx, dbPool); err != nil {
		logger.Error("Failed to ensure schema", "error", err)
		log.Fatalf("Schema initialization failed: %v", err)
	}
	logger.Info("Database connected")

	// Repository layer
	ruleStore := repository.NewPostgresRuleStore(dbPool, logger)
	runStore := repository.NewPostgresRunStore(dbPool)
	tenantStore := repository.NewPostgresTenantStore(dbPool)
	crmStore := repository.NewPostgresCRMStore(dbPool)
	chunkStore := repository.NewPostgresChunkStore(dbPool)

	// AI gateway and context retrieval
	aiClient := ai.NewClient(ai.Config{
		BaseURL:        cfg.AIGateway.URL,
		DefaultModel:   cfg.AIGateway.DefaultModel,
		EmbeddingModel: cfg.AIGateway.EmbeddingModel,
		Timeout:        cfg.AIGateway.Timeout,
	}, logger)
	contexts := contextbuilder.NewBuilder(crmStore, chunkStore, aiClient, logger)

	// Action registry
	registry := actions.NewRegistry(
		actions.NewAITask(aiClient, contexts, logger),
		actions.NewAIAgent(aiClient, crmStore, logger),
		actions.NewSendEmail(cfg.Integrations.EmailURL, logger),
		actions.NewChatMessage(logger),
		actions.NewMailboxRead(cfg.Integrations.MailboxURL, logger),
		actions.NewMailboxSend(cfg.Integrations.MailboxURL, logger),
		actions.NewWebSearch(cfg.Integrations.SearchURL, logger),
		actions.NewCreateTask(crmStore, logger),
		actions.NewUpdateDeal(crmStore, logger),
		actions.NewCreateContact(crmStore, logger),
	)
	logger.Info("Action registry initialized", "types", len(registry.Types()))

	// Queue and engine
	jobQueue := queue.NewPostgresQueue(dbPool, queue.Options{
		LeaseDuration: cfg.Engine.LeaseDuration,
		MaxAttempts:   cfg.Engine.MaxAttempts,
		RetryBackoff:  cfg.Engine.RetryBackoff,
	})
	orchestrator := engine.NewOrchestrator(ruleStore, runStore, tenantStore, registry, logger, engine.Options{
		RunTimeout:    cfg.Engine.RunTimeout,
		ActionTimeout: cfg.Engine.ActionTimeout,
	})
	pool := queue.NewWorkerPool(jobQueue, orchestrator, logger, cfg.Engine.Workers, cfg.Engine.PollInterval)
	pool.Start(ctx)

	matcher := engine.NewMatcher(ruleStore, jobQueue, logger, cfg.Engine.TickInterval)
	scheduler := engine.NewScheduler(matcher, logger, cfg.Engine.TickInterval)
	go scheduler.Run(ctx)

	logger.Info("Engine started",
		"workers", cfg.Engine.Workers,
		"tick_interval", cfg.Engine.TickInterval)

	// HTTP surface
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("pulsecrm-automations"))

	e.GET("/health", api.HandleHealth)

	authz := auth.New(tenantStore, logger)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(authz.RequireAPIKey)
	apiServer := api.NewServer(ruleStore, runStore, matcher, logger)
	apiServer.Register(apiGroup)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(ruleStore, runStore, crmStore, matcher)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	mcpGroup := e.Group("/mcp")
	mcpGroup.Use(authz.RequireAPIKey)
	mcpGroup.Any("", echo.WrapHandler(mcpHandlers))
	mcpGroup.Any("/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		// Stop workers and the scheduler, then wait for in-flight jobs.
		cancel()
		pool.Wait()

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
