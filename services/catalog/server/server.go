// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server assembles the catalog HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/MetricVault/services/catalog/editor"
	"github.com/AleutianAI/MetricVault/services/catalog/middleware"
	"github.com/AleutianAI/MetricVault/services/catalog/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the catalog HTTP server.
//
// # Thread Safety
//
// Run blocks and should only be called once per instance.
type Service interface {
	// Run serves until ctx is cancelled or the listener fails. On
	// cancellation in-flight requests get ShutdownTimeout to finish.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds server configuration options.
//
// # Optional Fields
//
// All fields are optional with defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// GinMode is passed to gin.SetMode when set ("release", "debug", "test").
	GinMode string

	// ServiceName names the otelgin server spans. Default: "metricvault"
	ServiceName string

	// RateLimitRPS and RateLimitBurst configure the global limiter.
	// RateLimitRPS <= 0 disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration
}

const (
	defaultPort            = 12310
	defaultServiceName     = "metricvault"
	defaultShutdownTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config Config
	router *gin.Engine
	logger *slog.Logger
}

// New builds the router with tracing, actor resolution, and rate limiting
// middleware, and registers the API routes.
//
// # Inputs
//
//   - config: Server options; zero values take defaults.
//   - svc: The editing service behind the handlers. Required.
//   - gatherer: Served on /metrics when non-nil.
//   - logger: nil uses slog.Default().
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: svc is nil.
func New(config Config, svc *editor.Service, gatherer prometheus.Gatherer, logger *slog.Logger) (Service, error) {
	if svc == nil {
		return nil, errors.New("server: editor service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()
	if config.GinMode != "" {
		gin.SetMode(config.GinMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(config.ServiceName))
	router.Use(middleware.RateLimit(config.RateLimitRPS, config.RateLimitBurst))
	router.Use(middleware.ActorMiddleware(nil))

	var metricsHandler http.Handler
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	routes.SetupRoutes(router, svc, metricsHandler)

	return &service{config: config, router: router, logger: logger}, nil
}

func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting metricvault server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down metricvault server", "timeout", s.config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

var _ Service = (*service)(nil)
