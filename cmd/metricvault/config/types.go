// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/MetricVault/pkg/logging"
)

type MetricVaultConfig struct {
	// Server: HTTP listener and request limits
	Server ServerConfig `yaml:"server"`

	// Storage: where metrics and versions live
	Storage StorageConfig `yaml:"storage"`

	// Trend: where period values are recorded
	Trend TrendConfig `yaml:"trend"`

	// Editing: lease and feed tuning
	Editing EditingConfig `yaml:"editing"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Port           int     `yaml:"port"`             // e.g. 12310
	GinMode        string  `yaml:"gin_mode"`         // release | debug
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`   // 0 disables
	RateLimitBurst int     `yaml:"rate_limit_burst"` // e.g. 100
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendInflux   = "influx"
)

type StorageConfig struct {
	Backend string `yaml:"backend"`       // memory | badger | sqlite | postgres
	Path    string `yaml:"path"`          // badger dir or sqlite file
	DSN     string `yaml:"dsn,omitempty"` // postgres connection string
}

type TrendConfig struct {
	Backend  string `yaml:"backend"` // memory | influx
	URL      string `yaml:"url,omitempty"`
	Token    string `yaml:"token,omitempty"`
	Org      string `yaml:"org,omitempty"`
	Bucket   string `yaml:"bucket,omitempty"`
	Capacity int    `yaml:"capacity"` // points per metric for memory
}

type EditingConfig struct {
	// LeaseTTL reclaims edit sessions idle longer than this. 0 disables.
	LeaseTTL           time.Duration `yaml:"lease_ttl"`
	FeedPerMetricLimit int           `yaml:"feed_per_metric_limit"`
	FeedTotalLimit     int           `yaml:"feed_total_limit"`
	Fanout             int           `yaml:"fanout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none | stdout
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() MetricVaultConfig {
	return MetricVaultConfig{
		Server: ServerConfig{
			Port:           12310,
			GinMode:        "release",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Storage: StorageConfig{
			Backend: BackendBadger,
			Path:    "./data/metricvault",
		},
		Trend: TrendConfig{
			Backend:  BackendMemory,
			Org:      "aleutian",
			Bucket:   "metricvault",
			Capacity: 500,
		},
		Editing: EditingConfig{
			FeedPerMetricLimit: 5,
			FeedTotalLimit:     20,
			Fanout:             8,
		},
		Logging: LoggingConfig{Level: "info"},
		Tracing: TracingConfig{Exporter: "none"},
	}
}

// Validate reports every invalid setting at once.
func (c MetricVaultConfig) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		errs = append(errs, errors.New("server.rate_limit_burst must be >= 1 when rate limiting"))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger, BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for %s", c.Storage.Backend))
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Trend.Backend {
	case BackendMemory:
	case BackendInflux:
		if c.Trend.URL == "" || c.Trend.Org == "" || c.Trend.Bucket == "" {
			errs = append(errs, errors.New("trend.url, trend.org and trend.bucket are required for influx"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown trend.backend %q", c.Trend.Backend))
	}

	if c.Editing.LeaseTTL < 0 {
		errs = append(errs, errors.New("editing.lease_ttl must not be negative"))
	}
	if c.Editing.FeedPerMetricLimit < 0 || c.Editing.FeedTotalLimit < 0 || c.Editing.Fanout < 0 {
		errs = append(errs, errors.New("editing feed limits must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("unknown tracing.exporter %q", c.Tracing.Exporter))
	}
	return errors.Join(errs...)
}
