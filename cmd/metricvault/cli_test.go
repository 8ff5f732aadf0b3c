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
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/MetricVault/cmd/metricvault/config"
	"github.com/AleutianAI/MetricVault/pkg/ux"
	"github.com/AleutianAI/MetricVault/services/catalog/bulk"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/lock"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
	"github.com/AleutianAI/MetricVault/services/catalog/store/memory"
)

const seedYAML = `
metrics:
  - id: mttd
    name: Mean time to detect
    category: detection
    current_value: 12
    target_value: 8
    target_units: hours
    direction: lower_is_better
  - id: patching
    name: Patch compliance
    category: vulnerability
    current_value: 90
    target_value: 100
    target_units: "%"
    direction: higher_is_better
`

func TestParseSeed(t *testing.T) {
	metrics, err := parseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "mttd", metrics[0].ID)
	assert.Equal(t, 12.0, *metrics[0].CurrentValue)
	assert.Equal(t, datatypes.DirectionLowerIsBetter, metrics[0].Direction)

	_, err = parseSeed([]byte("metrics: []\n"))
	assert.Error(t, err)

	_, err = parseSeed([]byte("metrics: {"))
	assert.Error(t, err)
}

func TestSeedMetrics_SkipsExisting(t *testing.T) {
	ctx := context.Background()
	metrics, err := parseSeed([]byte(seedYAML))
	require.NoError(t, err)

	st := memory.New()
	var out bytes.Buffer
	p := ux.NewPlainPrinter(&out)

	created, err := seedMetrics(ctx, st, metrics, p)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = seedMetrics(ctx, st, metrics, p)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Contains(t, out.String(), "WARN: mttd already exists, skipped")

	m, err := st.GetMetric(ctx, "patching")
	require.NoError(t, err)
	assert.True(t, m.Locked, "seeded metrics start locked")
}

func TestOpenStore_Backends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, cfg := range []config.StorageConfig{
		{Backend: config.BackendMemory},
		{Backend: config.BackendBadger, Path: filepath.Join(dir, "badger")},
		{Backend: config.BackendSQLite, Path: filepath.Join(dir, "vault.db")},
	} {
		t.Run(cfg.Backend, func(t *testing.T) {
			st, err := openStore(ctx, cfg, nil)
			require.NoError(t, err)
			defer st.Close()

			require.NoError(t, st.CreateMetric(ctx, &datatypes.Metric{ID: "mttd", Name: "Mean time to detect"}))
			_, err = st.GetMetric(ctx, "mttd")
			assert.NoError(t, err)
		})
	}

	_, err := openStore(ctx, config.StorageConfig{Backend: "cassandra"}, nil)
	assert.Error(t, err)
}

func TestBuildAppFromConfig_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Storage = config.StorageConfig{Backend: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "vault.db")}

	a, err := buildAppFromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	v := 10.0
	require.NoError(t, a.store.CreateMetric(ctx, &datatypes.Metric{
		ID: "mttd", Name: "Mean time to detect", CurrentValue: &v,
		TargetValue: datatypes.Float(8), TargetUnits: "hours",
	}))

	_, err = a.service.BeginEdit(ctx, "mttd", "ana")
	require.NoError(t, err)
	_, err = a.service.SetDraftField(ctx, "mttd", "ana", "current_value", 9.0)
	require.NoError(t, err)
	res, err := a.service.CommitEdit(ctx, "mttd", "ana", lock.CommitOptions{Decision: datatypes.UpdatePeriod})
	require.NoError(t, err)
	require.NotNil(t, res.Version)

	feed, err := a.service.GetAggregatedChangeFeed(ctx, []string{"mttd"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, feed, 1)

	var out bytes.Buffer
	renderFeed(ux.NewPlainPrinter(&out), feed)
	assert.Contains(t, out.String(), "10 → 9")
	assert.Contains(t, out.String(), "PERIOD_UPDATE")
}

func TestBuildAppFromConfig_DefaultStoragePersistsAcrossRuns(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	require.Equal(t, config.BackendBadger, cfg.Storage.Backend)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "metricvault")

	metrics, err := parseSeed([]byte(seedYAML))
	require.NoError(t, err)

	first, err := buildAppFromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = seedMetrics(ctx, first.store, metrics, ux.NewPlainPrinter(&out))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := buildAppFromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	defer second.Close()

	m, err := second.store.GetMetric(ctx, "mttd")
	require.NoError(t, err)
	assert.Equal(t, "Mean time to detect", m.Name)
	assert.True(t, m.Locked)
}

func TestRenderVersions(t *testing.T) {
	var out bytes.Buffer
	renderVersions(ux.NewPlainPrinter(&out), "mttd", []datatypes.MetricVersion{{
		MetricID:      "mttd",
		VersionNumber: 2,
		ChangedFields: []datatypes.Field{datatypes.FieldCurrentValue, datatypes.FieldOwner},
		ChangedBy:     "ana",
		ChangeSource:  datatypes.SourceBulk,
		CreatedAt:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}})
	s := out.String()
	assert.Contains(t, s, "v2")
	assert.Contains(t, s, "2026-03-01 09:30")
	assert.Contains(t, s, "current_value,owner")

	out.Reset()
	renderVersions(ux.NewPlainPrinter(&out), "mttd", nil)
	assert.Equal(t, "no versions of mttd\n", out.String())
}

func TestRenderBulk(t *testing.T) {
	var out bytes.Buffer
	res := bulk.Result{
		SuccessCount: 1,
		FailCount:    1,
		Items: []bulk.ItemResult{
			{MetricID: "m1"},
			{MetricID: "m2", Err: &store.LockConflictError{MetricID: "m2", Holder: "ben"}},
		},
	}
	renderBulk(ux.NewPlainPrinter(&out), res, "unlocked")
	assert.Equal(t, "OK: unlocked m1\nERROR: m2: metric m2 is being edited by ben\n1 succeeded, 1 failed\n", out.String())
}

func TestDeciderFromFlag(t *testing.T) {
	d, err := deciderFromFlag("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = deciderFromFlag("ADJUSTMENT")
	require.NoError(t, err)
	got, err := d.Decide(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, datatypes.UpdateAdjustment, got)

	_, err = deciderFromFlag("maybe")
	assert.Error(t, err)
}

func TestReportBulk_PartialFailureExitsNonZero(t *testing.T) {
	jsonOutput = true
	defer func() { jsonOutput = false }()

	err := reportBulk(bulk.Result{FailCount: 1, Items: []bulk.ItemResult{{MetricID: "m", Err: errors.New("x")}}}, "locked")
	assert.ErrorIs(t, err, errPartialFailure)
	assert.NoError(t, reportBulk(bulk.Result{}, "locked"))
}
