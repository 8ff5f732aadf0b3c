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

	"github.com/AleutianAI/MetricVault/pkg/ux"
)

func runFeed(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	feed, err := a.service.GetAggregatedChangeFeed(cmd.Context(), args, perMetricLimit, totalLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, feed)
	}
	renderFeed(ux.NewPrinter(os.Stdout), feed)
	return nil
}

func runVersions(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	versions, err := a.service.ListVersions(cmd.Context(), args[0], versionsLimit, versionsOffset)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, versions)
	}
	renderVersions(ux.NewPrinter(os.Stdout), args[0], versions)
	return nil
}
