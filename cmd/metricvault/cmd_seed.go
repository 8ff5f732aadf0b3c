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
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/MetricVault/pkg/ux"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
)

// seedFile is the YAML layout accepted by `metricvault seed`.
//
//	metrics:
//	  - id: mttd
//	    name: Mean time to detect
//	    current_value: 12
//	    target_value: 8
//	    target_units: hours
//	    direction: lower_is_better
type seedFile struct {
	Metrics []datatypes.Metric `yaml:"metrics"`
}

func parseSeed(data []byte) ([]datatypes.Metric, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(f.Metrics) == 0 {
		return nil, errors.New("seed file lists no metrics")
	}
	return f.Metrics, nil
}

// seedMetrics creates each metric, skipping ids that already exist.
func seedMetrics(ctx context.Context, w store.CatalogWriter, metrics []datatypes.Metric, p *ux.Printer) (created int, err error) {
	for i := range metrics {
		m := metrics[i]
		switch err := w.CreateMetric(ctx, &m); {
		case err == nil:
			created++
			p.Success("created " + m.ID)
		case errors.Is(err, store.ErrAlreadyExists):
			p.Warning(m.ID + " already exists, skipped")
		default:
			return created, fmt.Errorf("create %s: %w", m.ID, err)
		}
	}
	return created, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	metrics, err := parseSeed(data)
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	p := ux.NewPrinter(os.Stdout)
	created, err := seedMetrics(cmd.Context(), a.store, metrics, p)
	if err != nil {
		return err
	}
	p.Info(fmt.Sprintf("%d of %d metrics created", created, len(metrics)))
	return nil
}
