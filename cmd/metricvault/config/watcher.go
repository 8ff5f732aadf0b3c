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
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with the re-read config whenever the file at path
// is written or replaced, until ctx is done.
//
// # Description
//
// The parent directory is watched rather than the file so editors that
// save via rename keep triggering reloads. Files that fail to parse or
// validate are logged and skipped; onChange only sees valid configs.
// Environment overrides are not re-applied.
//
// # Outputs
//
//   - error: The watcher could not be created or the directory added.
//
// # Thread Safety
//
// onChange runs on the watcher goroutine.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(MetricVaultConfig)) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := readFile(abs)
				if err == nil {
					err = cfg.Validate()
				}
				if err != nil {
					logger.Warn("Ignoring config change", "path", abs, "error", err)
					continue
				}
				logger.Info("Config reloaded", "path", abs)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("File watcher error", "error", err)
			}
		}
	}()
	return nil
}
