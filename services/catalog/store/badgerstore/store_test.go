// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
	"github.com/AleutianAI/MetricVault/services/catalog/store/storetest"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openInMemory(t)
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(DefaultConfig())
	assert.Error(t, err)
}

func TestVersionKey_ZeroPadded(t *testing.T) {
	assert.Equal(t, "version/mttr/0000000042", string(versionKey("mttr", 42)))
	assert.Less(t, string(versionKey("mttr", 9)), string(versionKey("mttr", 10)))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.CreateMetric(ctx, storetest.Metric("mttr")))
	_, err = s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	require.NoError(t, err)
	_, err = s.PatchMetric(ctx, "mttr", store.PatchRequest{
		Fields:     datatypes.FieldSet{datatypes.FieldCurrentValue: 33.0},
		UpdateType: datatypes.UpdatePeriod,
		ChangedBy:  "ana",
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	m, err := s.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.Equal(t, 33.0, *m.CurrentValue)
	assert.Equal(t, "ana", m.LockedBy)

	versions, err := s.GetMetricVersions(ctx, "mttr", 0, 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 40.0, versions[0].Snapshot[datatypes.FieldCurrentValue])
}

func TestLastVersion_ManyVersions(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)
	require.NoError(t, s.CreateMetric(ctx, storetest.Metric("mttr")))
	require.NoError(t, s.CreateMetric(ctx, storetest.Metric("mttr.p95")))
	_, err := s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		_, err := s.PatchMetric(ctx, "mttr", store.PatchRequest{
			Fields:    datatypes.FieldSet{datatypes.FieldOwner: string(rune('a' + i))},
			ChangedBy: "ana",
		})
		require.NoError(t, err)
	}

	err = s.db.View(func(txn *badger.Txn) error {
		n, err := lastVersion(txn, "mttr")
		require.NoError(t, err)
		assert.Equal(t, 12, n)

		n, err = lastVersion(txn, "mttr.p95")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	s := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.CreateMetric(ctx, storetest.Metric("mttr"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartGC_RejectsBadRatio(t *testing.T) {
	s := openInMemory(t)
	_, err := startGC(s.db, time.Minute, 1.5, nil)
	assert.Error(t, err)
	_, err = startGC(s.db, 0, 0.5, nil)
	assert.Error(t, err)
}
