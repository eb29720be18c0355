// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-core/internal/authz"
	"github.com/capitalize-ai/assistant-core/internal/config"
	"github.com/capitalize-ai/assistant-core/internal/eventlog"
	"github.com/capitalize-ai/assistant-core/internal/handler"
	"github.com/capitalize-ai/assistant-core/internal/llm"
	"github.com/capitalize-ai/assistant-core/internal/middleware"
	natsclient "github.com/capitalize-ai/assistant-core/internal/nats"
	"github.com/capitalize-ai/assistant-core/internal/notify"
	"github.com/capitalize-ai/assistant-core/internal/orchestrator"
	"github.com/capitalize-ai/assistant-core/internal/search"
	"github.com/capitalize-ai/assistant-core/internal/store"
	"github.com/capitalize-ai/assistant-core/internal/tool"
	"github.com/capitalize-ai/assistant-core/pkg/logger"
	"github.com/capitalize-ai/assistant-core/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "assistant-core", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	nc, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer nc.Close()

	// Ensure the event log stream exists
	eventLog := eventlog.New(nc, log)
	if err := eventLog.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure event stream", zap.Error(err))
		os.Exit(1)
	}

	// KV buckets for entities and turns
	entityKV, err := nc.EnsureKeyValue(ctx, cfg.EntityBucket)
	if err != nil {
		log.Error("failed to ensure entity bucket", zap.Error(err))
		os.Exit(1)
	}
	turnKV, err := nc.EnsureKeyValue(ctx, cfg.TurnBucket)
	if err != nil {
		log.Error("failed to ensure turn bucket", zap.Error(err))
		os.Exit(1)
	}

	entities := store.NewEntityStore(entityKV)
	turns := store.NewTurnStore(turnKV)
	authorizer := authz.New(entities)
	notifier := notify.New(nc, log)

	// Initialize LLM client
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	} else {
		log.Error("no model provider API key configured")
		os.Exit(1)
	}
	if err != nil {
		log.Error("failed to create model client", zap.Error(err))
		os.Exit(1)
	}

	// Tool registry over collaborator services
	registry := tool.NewRegistry(tool.Services{
		Entities: entities,
		Search:   search.New(cfg.SearchAPIBaseURL, cfg.SearchAPIKey),
	})

	orch := orchestrator.New(eventLog, notifier, entities, turns, registry, authorizer, llmClient, orchestrator.Config{
		MaxRounds:     cfg.GenerationMaxRounds,
		MaxTokens:     cfg.GenerationMaxTokens,
		DefaultModel:  cfg.DefaultModel,
		FallbackModel: cfg.FallbackModel,
	}, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(nc)
	streamHandler := handler.NewStreamHandler(eventLog, notifier, authorizer, cfg.KeepAliveInterval, cfg.CatchupPageSize, log)
	exchangeHandler := handler.NewExchangeHandler(orch, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Stream-URL", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/streams", func(r chi.Router) {
			r.Get("/subscribe", streamHandler.Subscribe)
			r.Get("/active", streamHandler.Active)
			r.Get("/{id}/events", streamHandler.Read)
		})

		r.Post("/sessions/{id}/exchanges", exchangeHandler.Run)
		r.Delete("/exchanges/{id}", exchangeHandler.Cancel)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
