// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/MetricVault/services/catalog/bounds"
	"github.com/AleutianAI/MetricVault/services/catalog/classify"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/draft"
	"github.com/AleutianAI/MetricVault/services/catalog/observability"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
	"github.com/AleutianAI/MetricVault/services/catalog/store/memory"
	"github.com/AleutianAI/MetricVault/services/catalog/store/storetest"
	"github.com/AleutianAI/MetricVault/services/catalog/trend"
)

type fixture struct {
	store   *memory.Store
	trend   *trend.MemoryRecorder
	metrics *observability.Metrics
	coord   *Coordinator
}

func newFixture(t *testing.T, cfg Config, ids ...string) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.New(),
		trend:   trend.NewMemoryRecorder(0),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	for _, id := range ids {
		require.NoError(t, f.store.CreateMetric(context.Background(), storetest.Metric(id)))
	}
	coord, err := NewCoordinator(cfg, Deps{
		Repository: f.store,
		Trend:      f.trend,
		Metrics:    f.metrics,
	})
	require.NoError(t, err)
	f.coord = coord
	return f
}

func TestNewCoordinator_RequiresRepository(t *testing.T) {
	_, err := NewCoordinator(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestUnlock_SeedsDraftWithCommittedValues(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	d, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	assert.Equal(t, "ana", d.Actor)
	assert.Equal(t, 40.0, d.Base[datatypes.FieldCurrentValue])

	m, err := f.store.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.False(t, m.Locked)
	assert.Equal(t, "ana", m.LockedBy)
}

func TestUnlock_SameActorKeepsDraft(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldOwner, "blue-team"))

	d, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	assert.Equal(t, "blue-team", d.Pending[datatypes.FieldOwner])
}

func TestUnlock_ExternalLockDiscardsOldDraft(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, 99.0))

	// Another process ends the session directly against the shared store.
	_, err = f.store.LockMetric(ctx, "mttr", "ana")
	require.NoError(t, err)

	d, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	assert.Equal(t, 40.0, d.Pending[datatypes.FieldCurrentValue])
	assert.Equal(t, 40.0, d.Base[datatypes.FieldCurrentValue])

	res, err := f.coord.Lock(ctx, "mttr", "ana", CommitOptions{})
	require.NoError(t, err, "fresh draft carries no current value change")
	assert.Nil(t, res.Version)

	versions, err := f.store.GetMetricVersions(ctx, "mttr", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, versions)

	m, err := f.store.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	require.NotNil(t, m.CurrentValue)
	assert.Equal(t, 40.0, *m.CurrentValue)
}

func TestUnlock_ConflictNamesHolder(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)

	_, err = f.coord.Unlock(ctx, "mttr", "ben")
	require.Error(t, err)
	var conflict *store.LockConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "ana", conflict.Holder)

	d, ok := f.coord.Drafts().Get("mttr")
	require.True(t, ok)
	assert.Equal(t, "ana", d.Actor, "loser must not replace the draft")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LockTransitionsTotal.WithLabelValues("unlock", observability.StatusError)))
}

func TestUnlock_LeaseReclaim(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	st := memory.New(memory.WithClock(func() time.Time { return now }))
	require.NoError(t, st.CreateMetric(context.Background(), storetest.Metric("mttr")))

	coord, err := NewCoordinator(Config{
		LeaseTTL: time.Hour,
		Clock:    func() time.Time { return now },
	}, Deps{Repository: st})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, coord.SetField("mttr", "ana", datatypes.FieldOwner, "stale"))

	_, err = coord.Unlock(ctx, "mttr", "ben")
	require.ErrorIs(t, err, store.ErrLockConflict, "lease still fresh")

	now = now.Add(2 * time.Hour)
	d, err := coord.Unlock(ctx, "mttr", "ben")
	require.NoError(t, err)
	assert.Equal(t, "ben", d.Actor)
	assert.Equal(t, "secops", d.Pending[datatypes.FieldOwner], "stale draft dropped")
}

func TestSetField(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	err := f.coord.SetField("mttr", "ana", datatypes.FieldOwner, "x")
	assert.ErrorIs(t, err, draft.ErrNoDraft)

	_, err = f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)

	assert.ErrorIs(t, f.coord.SetField("mttr", "ben", datatypes.FieldOwner, "x"), store.ErrNotEditing)
	assert.ErrorIs(t, f.coord.SetField("mttr", "ana", "colour", "x"), datatypes.ErrUnknownField)
	assert.ErrorIs(t, f.coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, "high"), datatypes.ErrInvalidFieldValue)

	m, err := f.store.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, 31))
	after, err := f.store.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.Equal(t, *m.CurrentValue, *after.CurrentValue, "draft edits never touch the record")
}

func TestLock_PeriodUpdateRecordsTrend(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, 35))

	res, err := f.coord.Lock(ctx, "mttr", "ana", CommitOptions{Decision: datatypes.UpdatePeriod, Notes: "March"})
	require.NoError(t, err)
	require.NotNil(t, res.Version)
	assert.Equal(t, datatypes.UpdatePeriod, res.Version.UpdateType)
	assert.Equal(t, "March", res.Version.ChangeNotes)
	assert.True(t, res.TrendRecorded)

	pts, err := f.trend.Series(ctx, "mttr", 0)
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, 35.0, pts[0].Value)
	assert.Equal(t, 30.0, *pts[0].Target)

	m, err := f.store.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.True(t, m.Locked)
	assert.Equal(t, 35.0, *m.CurrentValue)
	assert.False(t, f.coord.Drafts().Has("mttr"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommitsTotal.WithLabelValues("PERIOD_UPDATE", observability.StatusSuccess)))
}

func TestLock_AdjustmentSkipsTrend(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, 38))

	res, err := f.coord.Lock(ctx, "mttr", "ana", CommitOptions{Decision: datatypes.UpdateAdjustment})
	require.NoError(t, err)
	assert.False(t, res.TrendRecorded)

	pts, err := f.trend.Series(ctx, "mttr", 0)
	require.NoError(t, err)
	assert.Empty(t, pts)

	versions, err := f.store.GetMetricVersions(ctx, "mttr", 0, 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, datatypes.UpdateAdjustment, versions[0].UpdateType)
}

func TestLock_ClassificationSuspendsAndKeepsDraft(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, 35))

	_, err = f.coord.Lock(ctx, "mttr", "ana", CommitOptions{})
	var prompt *classify.ClassificationRequiredError
	require.True(t, errors.As(err, &prompt))
	assert.Equal(t, 40.0, prompt.OldValue)
	assert.Equal(t, 35.0, prompt.NewValue)

	m, err := f.store.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.False(t, m.Locked, "suspension keeps the session open")
	assert.True(t, f.coord.Drafts().Has("mttr"))

	res, err := f.coord.Lock(ctx, "mttr", "ana", CommitOptions{Decision: datatypes.UpdateAdjustment})
	require.NoError(t, err)
	require.NotNil(t, res.Version)
}

func TestLock_ValidationErrorKeepsDraft(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, 301))

	_, err = f.coord.Lock(ctx, "mttr", "ana", CommitOptions{Decision: datatypes.UpdatePeriod})
	var verr *bounds.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Message, "300")

	d, ok := f.coord.Drafts().Get("mttr")
	require.True(t, ok)
	assert.Equal(t, 301.0, d.Pending[datatypes.FieldCurrentValue])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ValidationFailuresTotal))

	versions, err := f.store.GetMetricVersions(ctx, "mttr", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestLock_UnchangedDraftCreatesNoVersion(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, 40))
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldOwner, "secops"))

	res, err := f.coord.Lock(ctx, "mttr", "ana", CommitOptions{})
	require.NoError(t, err, "unchanged current value needs no decision")
	assert.Nil(t, res.Version)
	assert.Empty(t, res.Patch)

	versions, err := f.store.GetMetricVersions(ctx, "mttr", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestLock_NonCurrentFieldNeedsNoDecision(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldTargetValue, 25))

	res, err := f.coord.Lock(ctx, "mttr", "ana", CommitOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Version)
	assert.Equal(t, datatypes.UpdateTypeNone, res.Version.UpdateType)
	assert.Equal(t, []datatypes.Field{datatypes.FieldTargetValue}, res.Version.ChangedFields)
}

func TestLock_AlreadyLockedIsNoop(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	res, err := f.coord.Lock(context.Background(), "mttr", "ana", CommitOptions{})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestLock_OtherHolderConflicts(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)

	_, err = f.coord.Lock(ctx, "mttr", "ben", CommitOptions{})
	assert.ErrorIs(t, err, store.ErrLockConflict)
	assert.ErrorIs(t, f.coord.Cancel(ctx, "mttr", "ben"), store.ErrLockConflict)
}

func TestLock_CancelledBeforeIssueKeepsDraft(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	_, err := f.coord.Unlock(context.Background(), "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldOwner, "red-team"))

	// Cancelling the caller context before issue aborts at the first read.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.coord.Lock(ctx, "mttr", "ana", CommitOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.coord.Drafts().Has("mttr"))
}

func TestCancel_DiscardsDraftWithoutPatch(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	ctx := context.Background()

	_, err := f.coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, f.coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, 12))

	require.NoError(t, f.coord.Cancel(ctx, "mttr", "ana"))

	m, err := f.store.GetMetric(ctx, "mttr")
	require.NoError(t, err)
	assert.True(t, m.Locked)
	assert.Equal(t, 40.0, *m.CurrentValue)
	assert.False(t, f.coord.Drafts().Has("mttr"))

	versions, err := f.store.GetMetricVersions(ctx, "mttr", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, versions)

	assert.NoError(t, f.coord.Cancel(ctx, "mttr", "ana"), "cancel of a locked metric is a no-op")
}

// failingRecorder refuses every point.
type failingRecorder struct{ trend.Recorder }

func (failingRecorder) Record(context.Context, trend.Point) error {
	return errors.New("influx down")
}

func TestCommit_TrendFailureDoesNotFailCommit(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.CreateMetric(context.Background(), storetest.Metric("mttr")))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	coord, err := NewCoordinator(DefaultConfig(), Deps{
		Repository: st,
		Trend:      failingRecorder{},
		Metrics:    metrics,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = coord.Unlock(ctx, "mttr", "ana")
	require.NoError(t, err)
	require.NoError(t, coord.SetField("mttr", "ana", datatypes.FieldCurrentValue, 33))

	res, err := coord.Commit(ctx, "mttr", "ana", CommitOptions{Decision: datatypes.UpdatePeriod})
	require.NoError(t, err)
	require.NotNil(t, res.Version)
	assert.False(t, res.TrendRecorded)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TrendWriteFailuresTotal))

	// Commit keeps the session open; a second commit has nothing to write.
	res, err = coord.Commit(ctx, "mttr", "ana", CommitOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.Version)
}

func TestCommit_RequiresSession(t *testing.T) {
	f := newFixture(t, DefaultConfig(), "mttr")
	_, err := f.coord.Commit(context.Background(), "mttr", "ana", CommitOptions{})
	assert.ErrorIs(t, err, store.ErrNotEditing)

	_, err = f.coord.Commit(context.Background(), "Bad ID!", "ana", CommitOptions{})
	assert.Error(t, err)

	_, err = f.coord.Commit(context.Background(), "absent", "ana", CommitOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
