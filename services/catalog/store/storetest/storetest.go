// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storetest holds the behavioural test suite every store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Metric returns a representative metric for seeding.
func Metric(id string) *datatypes.Metric {
	return &datatypes.Metric{
		ID:           id,
		Name:         "Mean time to respond",
		Description:  "Hours from alert to containment",
		Category:     "response",
		Owner:        "secops",
		CurrentValue: datatypes.Float(40),
		TargetValue:  datatypes.Float(30),
		TargetUnits:  "hours",
		Direction:    datatypes.DirectionLowerIsBetter,
	}
}

// Run executes the full contract suite against the backend.
func Run(t *testing.T, open Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
	t.Run("ListByCategory", func(t *testing.T) { testList(t, open(t)) })
	t.Run("UnlockLockCAS", func(t *testing.T) { testUnlockLock(t, open(t)) })
	t.Run("StaleReclaim", func(t *testing.T) { testStaleReclaim(t, open(t)) })
	t.Run("PatchContract", func(t *testing.T) { testPatch(t, open(t)) })
	t.Run("VersionsNewestFirst", func(t *testing.T) { testVersions(t, open(t)) })
	t.Run("CompareVersions", func(t *testing.T) { testCompare(t, open(t)) })
	t.Run("ConcurrentUnlockOneWinner", func(t *testing.T) { testUnlockRace(t, open(t)) })
}

func seed(t *testing.T, s store.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateMetric(context.Background(), Metric(id)))
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "mttr")

	m, err := s.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.True(t, m.Locked, "new metrics start locked")
	assert.Equal(t, 40.0, *m.CurrentValue)
	assert.Equal(t, datatypes.DirectionLowerIsBetter, m.Direction)

	err = s.CreateMetric(ctx, Metric("mttr"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = s.GetMetric(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Mutating a returned copy must not leak into the store.
	*m.CurrentValue = 1
	again, err := s.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.Equal(t, 40.0, *again.CurrentValue)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		m := Metric(id)
		if id == "b" {
			m.Category = "detection"
		}
		require.NoError(t, s.CreateMetric(ctx, m))
	}

	all, err := s.ListMetrics(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[2].ID)

	detection, err := s.ListMetrics(ctx, "detection")
	require.NoError(t, err)
	require.Len(t, detection, 1)
	assert.Equal(t, "b", detection[0].ID)
}

func testUnlockLock(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "mttr")

	m, err := s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	require.NoError(t, err)
	assert.False(t, m.Locked)
	assert.Equal(t, "ana", m.LockedBy)
	require.NotNil(t, m.LockedAt)

	_, err = s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	assert.NoError(t, err, "same actor unlock is idempotent")

	_, err = s.UnlockMetric(ctx, "mttr", "bob", time.Time{})
	var lce *store.LockConflictError
	require.True(t, errors.As(err, &lce), "got %v", err)
	assert.Equal(t, "ana", lce.Holder)

	_, err = s.LockMetric(ctx, "mttr", "bob")
	assert.ErrorIs(t, err, store.ErrLockConflict)

	m, err = s.LockMetric(ctx, "mttr", "ana")
	require.NoError(t, err)
	assert.True(t, m.Locked)

	_, err = s.LockMetric(ctx, "mttr", "bob")
	assert.NoError(t, err, "locking a locked metric is a no-op")

	_, err = s.UnlockMetric(ctx, "missing", "ana", time.Time{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testStaleReclaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "mttr")

	_, err := s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	require.NoError(t, err)

	_, err = s.UnlockMetric(ctx, "mttr", "bob", time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, store.ErrLockConflict, "fresh session must not be reclaimed")

	m, err := s.UnlockMetric(ctx, "mttr", "bob", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "bob", m.LockedBy)
}

func testPatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "mttr")

	req := store.PatchRequest{
		Fields:    datatypes.FieldSet{datatypes.FieldCurrentValue: 35.0},
		ChangedBy: "ana",
	}

	_, err := s.PatchMetric(ctx, "mttr", store.PatchRequest{Fields: datatypes.FieldSet{datatypes.FieldName: "x"}, ChangedBy: "ana"})
	assert.ErrorIs(t, err, store.ErrNotEditing, "locked metrics reject patches")

	_, err = s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	require.NoError(t, err)

	_, err = s.PatchMetric(ctx, "mttr", req)
	assert.ErrorIs(t, err, store.ErrUpdateTypeRequired)

	req.ChangedBy = "bob"
	req.UpdateType = datatypes.UpdatePeriod
	_, err = s.PatchMetric(ctx, "mttr", req)
	assert.ErrorIs(t, err, store.ErrNotEditing)

	v, err := s.PatchMetric(ctx, "mttr", store.PatchRequest{ChangedBy: "ana"})
	require.NoError(t, err)
	assert.Nil(t, v, "empty patch creates no version")

	req.ChangedBy = "ana"
	v, err = s.PatchMetric(ctx, "mttr", req)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 1, v.VersionNumber)
	assert.Equal(t, 40.0, v.Snapshot[datatypes.FieldCurrentValue])

	m, err := s.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.Equal(t, 35.0, *m.CurrentValue)
	assert.False(t, m.Locked, "patching does not lock")

	versions, err := s.GetMetricVersions(ctx, "mttr", 10, 0)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func testVersions(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "mttr")
	_, err := s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	require.NoError(t, err)

	for i, v := range []float64{38, 36, 34} {
		_, err := s.PatchMetric(ctx, "mttr", store.PatchRequest{
			Fields:     datatypes.FieldSet{datatypes.FieldCurrentValue: v},
			UpdateType: datatypes.UpdatePeriod,
			ChangedBy:  "ana",
			Notes:      fmt.Sprintf("period %d", i+1),
		})
		require.NoError(t, err)
	}

	versions, err := s.GetMetricVersions(ctx, "mttr", 0, 0)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[0].VersionNumber)
	assert.Equal(t, 1, versions[2].VersionNumber)
	assert.Equal(t, 36.0, versions[0].Snapshot[datatypes.FieldCurrentValue])
	assert.Equal(t, "period 3", versions[0].ChangeNotes)
	assert.Equal(t, datatypes.UpdatePeriod, versions[0].UpdateType)
	assert.Equal(t, []datatypes.Field{datatypes.FieldCurrentValue}, versions[0].ChangedFields)

	page, err := s.GetMetricVersions(ctx, "mttr", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 2, page[0].VersionNumber)

	empty, err := s.GetMetricVersions(ctx, "mttr", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.GetMetricVersions(ctx, "missing", 5, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCompare(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "mttr")
	_, err := s.UnlockMetric(ctx, "mttr", "ana", time.Time{})
	require.NoError(t, err)

	_, err = s.PatchMetric(ctx, "mttr", store.PatchRequest{
		Fields:     datatypes.FieldSet{datatypes.FieldCurrentValue: 35.0},
		UpdateType: datatypes.UpdateAdjustment,
		ChangedBy:  "ana",
	})
	require.NoError(t, err)
	_, err = s.PatchMetric(ctx, "mttr", store.PatchRequest{
		Fields:    datatypes.FieldSet{datatypes.FieldOwner: "ir-team"},
		ChangedBy: "ana",
	})
	require.NoError(t, err)

	diff, err := s.CompareMetricVersions(ctx, "mttr", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, map[datatypes.Field]datatypes.FieldDiff{
		datatypes.FieldCurrentValue: {From: 40.0, To: 35.0},
	}, diff)

	_, err = s.CompareMetricVersions(ctx, "mttr", 1, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUnlockRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "mttr")

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, err := s.UnlockMetric(ctx, "mttr", actor, time.Time{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, actor)
			case errors.Is(err, store.ErrLockConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("actor-%d", i))
	}
	wg.Wait()

	assert.Len(t, winners, 1)
	assert.Equal(t, racers-1, conflicts)

	m, err := s.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.Equal(t, winners[0], m.LockedBy)
}
