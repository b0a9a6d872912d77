// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway assembles the StellarServe service: storage,
// completion core, HTTP routing, and observability.
//
// # Description
//
// This package contains the Service type that wires all components
// together from a resolved configuration. The construction order is
// storage, metrics and tracing, model client, handlers, router; Run
// then drives the HTTP server and the storage GC loop until the
// context is cancelled, shutting both down gracefully.
//
// # Usage
//
//	cfg, err := config.Load("gateway.yaml")
//	svc, err := gateway.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx)
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/stellarbyte/stellarserve/pkg/logging"
	"github.com/stellarbyte/stellarserve/services/gateway/completion"
	"github.com/stellarbyte/stellarserve/services/gateway/config"
	"github.com/stellarbyte/stellarserve/services/gateway/conversation"
	"github.com/stellarbyte/stellarserve/services/gateway/handlers"
	"github.com/stellarbyte/stellarserve/services/gateway/middleware"
	"github.com/stellarbyte/stellarserve/services/gateway/observability"
	"github.com/stellarbyte/stellarserve/services/gateway/routes"
	"github.com/stellarbyte/stellarserve/services/gateway/store"
	"github.com/stellarbyte/stellarserve/services/llm"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Service is the assembled gateway.
type Service struct {
	cfg    config.Config
	logger *logging.Logger
	db     *badger.DB
	gc     *store.GCRunner
	router *gin.Engine

	keys *store.APIKeyStore

	tracerCleanup func(context.Context)
}

// New builds a Service from the given configuration.
func New(cfg config.Config) (*Service, error) {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		Service: "stellarserve-gateway",
		LogDir:  cfg.Logging.Dir,
		JSON:    cfg.Logging.JSON,
	})
	slog.SetDefault(logger.Slog())

	s := &Service{cfg: cfg, logger: logger}

	if cfg.Telemetry.Enabled {
		cleanup, err := initTracer(cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if err := s.initStorage(); err != nil {
		return nil, err
	}
	if err := s.initRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

// Keys exposes the API key store for CLI administration.
func (s *Service) Keys() *store.APIKeyStore {
	return s.keys
}

// Router returns the configured Gin engine for integration testing.
func (s *Service) Router() *gin.Engine {
	return s.router
}

func (s *Service) initStorage() error {
	storeCfg := store.DefaultConfig()
	storeCfg.Path = s.cfg.Storage.Path
	storeCfg.InMemory = s.cfg.Storage.InMemory
	storeCfg.Logger = s.logger.Slog()
	if s.cfg.Storage.GCInterval > 0 {
		storeCfg.GCInterval = s.cfg.Storage.GCInterval
	}

	db, err := store.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	s.db = db
	s.keys = store.NewAPIKeyStore(db)

	if storeCfg.GCInterval > 0 && !storeCfg.InMemory {
		gc, err := store.NewGCRunner(db, storeCfg.GCInterval, storeCfg.GCDiscardRatio, s.logger.Slog())
		if err != nil {
			return fmt.Errorf("create gc runner: %w", err)
		}
		s.gc = gc
	}
	return nil
}

func (s *Service) initRouter() error {
	sessions := store.NewSessionStore(s.db)
	turns := store.NewTurnStore(s.db)
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	client, err := llm.NewRunnerClient(s.cfg.Model.RunnerURL)
	if err != nil {
		return fmt.Errorf("create runner client: %w", err)
	}
	orchestrator := completion.NewOrchestrator(client, s.logger.Slog())
	resolver := conversation.NewResolver(turns, s.logger.Slog())

	h := routes.Handlers{
		Chat: handlers.NewChatHandler(orchestrator, resolver, sessions, turns,
			metrics, s.cfg.Model.ID, s.logger.Slog()),
		Sessions: handlers.NewSessionHandler(sessions, turns, s.logger.Slog()),
		APIKeys:  handlers.NewAPIKeyHandler(s.keys, s.logger.Slog()),
		Models:   handlers.NewModelHandler(s.cfg.Model.ID, time.Now().Unix(), s.cfg.Model.Owner),
	}

	opts := routes.Options{
		Version:      Version,
		KeyValidator: s.keys,
		AuthEnabled:  s.cfg.Auth.Enabled,
	}
	if s.cfg.RateLimit.Enabled {
		opts.RateLimiter = middleware.NewRateLimiter(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if s.cfg.Telemetry.Enabled {
		router.Use(otelgin.Middleware("stellarserve-gateway"))
	}
	routes.SetupRoutes(router, h, opts)
	s.router = router
	return nil
}

// Run starts the HTTP server and the storage GC loop, blocking until
// the context is cancelled or a component fails. Shutdown is graceful
// within the configured timeout.
func (s *Service) Run(ctx context.Context) error {
	defer s.cleanup()

	server := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.router,
	}

	if s.gc != nil {
		s.gc.Start()
		defer s.gc.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting gateway server",
			"addr", s.cfg.Addr(), "model", s.cfg.Model.ID, "auth", s.cfg.Auth.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down gateway server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close storage", "error", err)
		}
	}
	_ = s.logger.Close()
}

// initTracer initializes OpenTelemetry distributed tracing via OTLP.
// Uses an insecure gRPC connection, appropriate for internal networks.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("stellarserve-gateway")))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}
