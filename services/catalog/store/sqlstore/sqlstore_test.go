// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
	"github.com/AleutianAI/MetricVault/services/catalog/store/storetest"
)

func openSQLite(t *testing.T, dsn string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openSQLite(t, ":memory:")
	})
}

// Runs against a live database when METRICVAULT_TEST_POSTGRES_DSN is set.
func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("METRICVAULT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("METRICVAULT_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, Config{Driver: DriverPostgres, DSN: dsn})
		require.NoError(t, err)
		_, err = s.db.ExecContext(ctx, `TRUNCATE metrics, metric_versions`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: DriverPostgres})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2", pg.rebind("UPDATE t SET a = ? WHERE id = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestSQLite_PersistsToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "vault.db")

	s, err := Open(ctx, Config{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	require.NoError(t, s.CreateMetric(ctx, storetest.Metric("mttr")))
	_, err = s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	require.NoError(t, err)
	_, err = s.PatchMetric(ctx, "mttr", store.PatchRequest{
		Fields:     datatypes.FieldSet{datatypes.FieldCurrentValue: 31.0},
		UpdateType: datatypes.UpdateAdjustment,
		ChangedBy:  "ana",
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openSQLite(t, path)
	m, err := s.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.Equal(t, 31.0, *m.CurrentValue)

	versions, err := s.GetMetricVersions(ctx, "mttr", 0, 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, datatypes.UpdateAdjustment, versions[0].UpdateType)
}

func TestSQLite_OffsetWithoutLimit(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, ":memory:")
	require.NoError(t, s.CreateMetric(ctx, storetest.Metric("mttr")))
	_, err := s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := s.PatchMetric(ctx, "mttr", store.PatchRequest{
			Fields:    datatypes.FieldSet{datatypes.FieldOwner: fmt.Sprintf("team-%d", i)},
			ChangedBy: "ana",
		})
		require.NoError(t, err)
	}

	versions, err := s.GetMetricVersions(ctx, "mttr", 0, 3)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].VersionNumber)
}

func TestWriteMetric_StaleRevision(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, ":memory:")
	require.NoError(t, s.CreateMetric(ctx, storetest.Metric("mttr")))

	m, revision, err := s.readMetric(ctx, s.db, "mttr")
	require.NoError(t, err)

	err = s.runTx(ctx, func(tx *sql.Tx) error {
		return s.writeMetric(ctx, tx, m, revision+7)
	})
	assert.ErrorIs(t, err, errStale)
}
