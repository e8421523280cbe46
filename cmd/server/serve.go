package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/api"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/auth"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/components"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/config"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/engine"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/mcp"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/repository"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/stream"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/tls"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
)

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"db_driver", cfg.DB.Driver,
		"okta_domain", cfg.Auth.OktaDomain,
		"llm_provider", cfg.LLM.Provider,
		"retrieval_url", cfg.Retrieval.URL,
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client ID matches the backend client ID; PKCE login from /docs will fail if the backend app requires a secret")
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Capabilities
	deps := components.Deps{Operators: workflow.NewOperatorCatalog()}
	if cfg.LLM.APIKey != "" || cfg.LLM.Provider == "ollama" {
		model, err := services.NewModelInvoker(services.LLMConfig{
			Provider: cfg.LLM.Provider,
			BaseURL:  cfg.LLM.BaseURL,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
		})
		if err != nil {
			return fmt.Errorf("llm: %w", err)
		}
		deps.Model = model
	} else {
		logger.Warn("No LLM configured; llm-call nodes will fail")
	}
	if cfg.Retrieval.URL != "" {
		deps.Retriever = services.NewHTTPRetriever(cfg.Retrieval.URL, cfg.Retrieval.Timeout)
	} else {
		logger.Warn("No retrieval service configured; knowledge-retrieve nodes will fail")
	}

	registry, err := components.NewRegistry(deps)
	if err != nil {
		return fmt.Errorf("component registry: %w", err)
	}
	defer registry.Close()

	broker := stream.NewBroker(cfg.Engine.StreamBuffer)
	eng := engine.New(store, registry,
		engine.WithLogger(logger.With("component", "engine")),
		engine.WithBroker(broker),
		engine.WithMaxParallel(cfg.Engine.MaxParallel),
		engine.WithNodeTimeout(cfg.Engine.NodeTimeout),
		engine.WithRunTimeout(cfg.Engine.RunTimeout),
	)

	workflows := services.NewWorkflowService(store, registry, logger)
	runtimes := services.NewRuntimeService(store, logger)
	logger.Info("Service layer initialized", "components", len(registry.List()))

	authz, err := auth.New(ctx, cfg, store, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(api.ServiceName))

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiServer := api.NewServer(api.Deps{
		Workflows: workflows,
		Runtimes:  runtimes,
		Engine:    eng,
		Registry:  registry,
		Operators: deps.Operators,
		Pinger:    store,
		Logger:    logger.With("component", "api"),
		Version:   version,
	})
	e.GET("/health", apiServer.HandleHealth)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, apiServer)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(eng, registry, deps.Operators, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	mcpHandler := echo.WrapHandler(authz.RequireAuth(mcpHandlers))
	e.Any("/mcp", mcpHandler)
	e.Any("/mcp/*", mcpHandler)
	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(api.OAuth2RedirectHandler()))

	addr := cfg.Server.Addr
	if cfg.TLS.Enable {
		addr = cfg.Server.TLSAddr
		created, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return err
		}
		if created {
			logger.Info("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hostnames", cfg.TLS.Hostnames)
		}
	}

	// No WriteTimeout: event streams stay open for the whole execution.
	server := &http.Server{
		Addr:        addr,
		Handler:     e,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable, "version", version)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Listeners close first; running executions then get until the deadline
	// to finish, which also ends the event streams still being served.
	httpDone := make(chan error, 1)
	go func() { httpDone <- server.Shutdown(shutdownCtx) }()

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Executions cancelled at shutdown", "error", err)
	}
	broker.Close()

	if err := <-httpDone; err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// openStore returns the configured repository and a func releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, func(), error) {
	switch cfg.DB.Driver {
	case "memory":
		logger.Warn("Using the in-memory store; data is lost on restart")
		return repository.NewInMemoryStore(), func() {}, nil
	case "", "postgres":
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("database initialization failed: %w", err)
		}
		if applied, err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		} else if len(applied) > 0 {
			logger.Info("migrations applied", "names", applied)
		}
		logger.Info("Database connected")
		return repository.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}
}
