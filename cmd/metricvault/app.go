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
	"errors"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/MetricVault/cmd/metricvault/config"
	"github.com/AleutianAI/MetricVault/pkg/logging"
	"github.com/AleutianAI/MetricVault/services/catalog/classify"
	"github.com/AleutianAI/MetricVault/services/catalog/editor"
	"github.com/AleutianAI/MetricVault/services/catalog/history"
	"github.com/AleutianAI/MetricVault/services/catalog/lock"
	"github.com/AleutianAI/MetricVault/services/catalog/observability"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
	"github.com/AleutianAI/MetricVault/services/catalog/store/badgerstore"
	"github.com/AleutianAI/MetricVault/services/catalog/store/memory"
	"github.com/AleutianAI/MetricVault/services/catalog/store/sqlstore"
	"github.com/AleutianAI/MetricVault/services/catalog/trend"
)

// app holds the assembled collaborators of one CLI invocation.
type app struct {
	cfg      config.MetricVaultConfig
	logger   *logging.Logger
	store    store.Store
	service  *editor.Service
	registry *prometheus.Registry
	closers  []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadConfig() (config.MetricVaultConfig, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return config.MetricVaultConfig{}, err
		}
		configPath = path
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig) *logging.Logger {
	level, _ := logging.ParseLevel(cfg.Level)
	return logging.New(logging.Config{
		Level:   level,
		Service: "metricvault",
		JSON:    cfg.JSON,
		LogDir:  cfg.Dir,
	})
}

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memory.New(), nil
	case config.BackendBadger:
		bc := badgerstore.DefaultConfig()
		bc.Path = cfg.Path
		bc.Logger = logger
		return badgerstore.Open(bc)
	case config.BackendSQLite:
		return sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: cfg.Path})
	case config.BackendPostgres:
		return sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverPostgres, DSN: cfg.DSN})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// openTrend builds the configured recorder and its cleanup.
func openTrend(cfg config.TrendConfig, logger *slog.Logger) (trend.Recorder, func() error) {
	switch cfg.Backend {
	case config.BackendInflux:
		client := influxdb2.NewClient(cfg.URL, cfg.Token)
		return trend.NewInfluxRecorder(client, cfg.Org, cfg.Bucket, logger), func() error {
			client.Close()
			return nil
		}
	default:
		return trend.NewMemoryRecorder(cfg.Capacity), func() error { return nil }
	}
}

// buildApp loads config and wires the editing service.
//
// decider answers classification prompts in LockAll; nil fails such items.
func buildApp(ctx context.Context, decider classify.Decider) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildAppFromConfig(ctx, cfg, decider)
}

func buildAppFromConfig(ctx context.Context, cfg config.MetricVaultConfig, decider classify.Decider) (*app, error) {
	logger := newLogger(cfg.Logging)
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.closers = append(a.closers, logger.Close)

	st, err := openStore(ctx, cfg.Storage, logger.Slog())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	recorder, closeTrend := openTrend(cfg.Trend, logger.Slog())
	a.closers = append(a.closers, closeTrend)

	svc, err := editor.New(editor.Config{
		Lock: lock.Config{LeaseTTL: cfg.Editing.LeaseTTL},
		Aggregator: history.AggregatorConfig{
			PerMetricLimit: cfg.Editing.FeedPerMetricLimit,
			TotalLimit:     cfg.Editing.FeedTotalLimit,
			Fanout:         cfg.Editing.Fanout,
		},
		Decider: decider,
	}, editor.Deps{
		Repository: st,
		Trend:      recorder,
		Metrics:    observability.NewMetrics(a.registry),
		Logger:     logger.Slog(),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.service = svc
	return a, nil
}
