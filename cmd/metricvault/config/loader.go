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
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.metricvault/metricvault.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".metricvault", "metricvault.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
//
// # Description
//
// Values absent from the file keep their defaults. Environment overrides
// are applied after the file, then the result is validated.
//
// # Outputs
//
//   - MetricVaultConfig: The effective configuration.
//   - error: Unreadable file, bad YAML, or failed validation.
func Load(path string) (MetricVaultConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return MetricVaultConfig{}, err
		}
	}
	cfg, err := readFile(path)
	if err != nil {
		return MetricVaultConfig{}, err
	}
	applyEnv(&cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return MetricVaultConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func readFile(path string) (MetricVaultConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overlays environment variables. lookup is os.LookupEnv outside
// tests. Unparsable numbers are ignored.
func applyEnv(cfg *MetricVaultConfig, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("METRICVAULT_STORAGE_BACKEND", &cfg.Storage.Backend)
	str("METRICVAULT_STORAGE_PATH", &cfg.Storage.Path)
	str("METRICVAULT_STORAGE_DSN", &cfg.Storage.DSN)
	str("METRICVAULT_TREND_BACKEND", &cfg.Trend.Backend)
	str("METRICVAULT_LOG_LEVEL", &cfg.Logging.Level)
	str("METRICVAULT_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("INFLUXDB_URL", &cfg.Trend.URL)
	str("INFLUXDB_TOKEN", &cfg.Trend.Token)
	str("INFLUXDB_ORG", &cfg.Trend.Org)
	str("INFLUXDB_BUCKET", &cfg.Trend.Bucket)

	if v, ok := lookup("METRICVAULT_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}
