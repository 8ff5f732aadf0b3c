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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/MetricVault/services/catalog/middleware"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	configPath string
	actorFlag  string
	jsonOutput bool

	// lock-all
	updateTypeFlag string

	// feed
	perMetricLimit int
	totalLimit     int

	// versions
	versionsLimit  int
	versionsOffset int
)

var (
	rootCmd = &cobra.Command{
		Use:   "metricvault",
		Short: "Edit-locking, drafts and version history for security metrics",
		Long: `MetricVault keeps a catalog of security metrics editable one actor at a
time, validates and classifies every committed value, and keeps an
append-only version history from which change feeds are derived.`,
		SilenceUsage: true,
		Version:      Version,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	seedCmd = &cobra.Command{
		Use:   "seed [file.yaml]",
		Short: "Create catalog metrics from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeed, // Defined in cmd_seed.go
	}

	feedCmd = &cobra.Command{
		Use:   "feed [metric-id...]",
		Short: "Show the merged change feed of one or more metrics",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFeed, // Defined in cmd_history.go
	}

	versionsCmd = &cobra.Command{
		Use:   "versions [metric-id]",
		Short: "List the versions of a metric, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runVersions, // Defined in cmd_history.go
	}

	lockAllCmd = &cobra.Command{
		Use:   "lock-all [metric-id...]",
		Short: "Commit open drafts and lock every listed metric",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLockAll, // Defined in cmd_bulk.go
	}

	unlockAllCmd = &cobra.Command{
		Use:   "unlock-all [metric-id...]",
		Short: "Open an edit session on every listed metric",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runUnlockAll, // Defined in cmd_bulk.go
	}
)

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return middleware.DefaultActor
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.metricvault/metricvault.yaml)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", defaultActor(), "acting identity for edits")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")

	lockAllCmd.Flags().StringVar(&updateTypeFlag, "update-type", "", "answer for current-value changes: PERIOD_UPDATE or ADJUSTMENT")

	feedCmd.Flags().IntVar(&perMetricLimit, "per-metric", 0, "entries per metric (default 5)")
	feedCmd.Flags().IntVar(&totalLimit, "limit", 0, "total entries (default 20)")

	versionsCmd.Flags().IntVar(&versionsLimit, "limit", 20, "versions to show")
	versionsCmd.Flags().IntVar(&versionsOffset, "offset", 0, "versions to skip")

	rootCmd.AddCommand(serveCmd, seedCmd, feedCmd, versionsCmd, lockAllCmd, unlockAllCmd)
}
