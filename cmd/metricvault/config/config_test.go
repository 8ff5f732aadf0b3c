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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".metricvault", "metricvault.yaml")
	require.NoError(t, createDefault(configPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var cfg MetricVaultConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metricvault.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12310, cfg.Server.Port)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "./data/metricvault", cfg.Storage.Path)
	assert.FileExists(t, path)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metricvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: sqlite
  path: /tmp/vault.db
editing:
  lease_ttl: 30m
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Editing.LeaseTTL)
	assert.Equal(t, 20, cfg.Editing.FeedTotalLimit)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_InvalidRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metricvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: cassandra\n"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "cassandra")

	require.NoError(t, os.WriteFile(path, []byte("server: [\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"METRICVAULT_PORT":            "9000",
		"METRICVAULT_STORAGE_BACKEND": "postgres",
		"METRICVAULT_STORAGE_DSN":     "postgres://vault@localhost/vault",
		"INFLUXDB_TOKEN":              "secret",
		"METRICVAULT_LOG_LEVEL":       "debug",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := DefaultConfig()
	applyEnv(&cfg, lookup)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://vault@localhost/vault", cfg.Storage.DSN)
	assert.Equal(t, "secret", cfg.Trend.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())

	env["METRICVAULT_PORT"] = "not-a-port"
	cfg = DefaultConfig()
	applyEnv(&cfg, lookup)
	assert.Equal(t, 12310, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MetricVaultConfig)
		errMsg string
	}{
		{"defaults", func(*MetricVaultConfig) {}, ""},
		{"bad port", func(c *MetricVaultConfig) { c.Server.Port = 70000 }, "server.port"},
		{"burst required", func(c *MetricVaultConfig) { c.Server.RateLimitBurst = 0 }, "rate_limit_burst"},
		{"postgres needs dsn", func(c *MetricVaultConfig) { c.Storage.Backend = BackendPostgres }, "storage.dsn"},
		{"badger needs path", func(c *MetricVaultConfig) { c.Storage.Backend = BackendBadger; c.Storage.Path = "" }, "storage.path"},
		{"influx needs url", func(c *MetricVaultConfig) { c.Trend.Backend = BackendInflux }, "trend.url"},
		{"negative lease", func(c *MetricVaultConfig) { c.Editing.LeaseTTL = -time.Second }, "lease_ttl"},
		{"bad level", func(c *MetricVaultConfig) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad exporter", func(c *MetricVaultConfig) { c.Tracing.Exporter = "otlp" }, "tracing.exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metricvault.yaml")
	require.NoError(t, createDefault(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan MetricVaultConfig, 4)
	require.NoError(t, Watch(ctx, path, nil, func(c MetricVaultConfig) {
		select {
		case changes <- c:
		default:
		}
	}))

	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	// WriteFile may surface the truncate as a separate event.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-changes:
			if got.Logging.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "c.yaml"), nil, func(MetricVaultConfig) {})
	assert.Error(t, err)
}
