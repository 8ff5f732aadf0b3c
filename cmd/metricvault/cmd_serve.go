// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/MetricVault/cmd/metricvault/config"
	"github.com/AleutianAI/MetricVault/pkg/logging"
	"github.com/AleutianAI/MetricVault/services/catalog/observability"
	"github.com/AleutianAI/MetricVault/services/catalog/server"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	log := a.logger.Slog()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    "metricvault",
		ServiceVersion: Version,
		Exporter:       a.cfg.Tracing.Exporter,
		Output:         os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("Tracer shutdown error", "error", err)
		}
	}()

	err = config.Watch(ctx, configPath, log, func(next config.MetricVaultConfig) {
		level, err := logging.ParseLevel(next.Logging.Level)
		if err != nil {
			return
		}
		if level != a.logger.Level() {
			a.logger.SetLevel(level)
			log.Info("Log level changed", "level", level.String())
		}
	})
	if err != nil {
		log.Warn("Config hot reload disabled", "path", configPath, "error", err)
	}

	srv, err := server.New(server.Config{
		Port:           a.cfg.Server.Port,
		GinMode:        a.cfg.Server.GinMode,
		ServiceName:    "metricvault",
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
	}, a.service, a.registry, log)
	if err != nil {
		return err
	}

	log.Info("Serving catalog",
		"storage", a.cfg.Storage.Backend,
		"trend", a.cfg.Trend.Backend,
		"lease_ttl", a.cfg.Editing.LeaseTTL.String())
	return srv.Run(ctx)
}
