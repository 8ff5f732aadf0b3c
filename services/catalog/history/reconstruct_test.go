// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func version(n int, snapshot datatypes.FieldSet, changed ...datatypes.Field) datatypes.MetricVersion {
	return datatypes.MetricVersion{
		MetricID:      "mttr",
		VersionNumber: n,
		Snapshot:      snapshot,
		ChangedFields: changed,
		ChangedBy:     "ana",
		ChangeSource:  datatypes.SourceManual,
		UpdateType:    datatypes.UpdatePeriod,
		CreatedAt:     t0.Add(time.Duration(n) * time.Hour),
	}
}

func liveMetric(current float64) *datatypes.Metric {
	return &datatypes.Metric{
		ID:           "mttr",
		Name:         "MTTR",
		CurrentValue: datatypes.Float(current),
		TargetValue:  datatypes.Float(30),
		Direction:    datatypes.DirectionLowerIsBetter,
	}
}

// 40 -> 35 -> 32, stored as before-snapshots.
func TestReconstruct_BeforeAfterPairs(t *testing.T) {
	versions := []datatypes.MetricVersion{
		version(2, datatypes.FieldSet{datatypes.FieldCurrentValue: 35.0}, datatypes.FieldCurrentValue),
		version(1, datatypes.FieldSet{datatypes.FieldCurrentValue: 40.0}, datatypes.FieldCurrentValue),
	}

	entries, err := Reconstruct(versions, liveMetric(32))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 2, entries[0].VersionNumber)
	assert.Equal(t, 35.0, entries[0].OldValue.Value())
	assert.Equal(t, 32.0, entries[0].NewValue.Value())

	assert.Equal(t, 1, entries[1].VersionNumber)
	assert.Equal(t, 40.0, entries[1].OldValue.Value())
	assert.Equal(t, 35.0, entries[1].NewValue.Value())

	assert.Equal(t, datatypes.UpdatePeriod, entries[0].UpdateType)
	assert.Equal(t, "ana", entries[0].ChangedBy)
	assert.Equal(t, t0.Add(2*time.Hour), entries[0].Timestamp)
}

func TestReconstruct_Telescoping(t *testing.T) {
	values := []float64{10, 14, 9, 22, 22.5, 3}
	var versions []datatypes.MetricVersion
	for i := len(values) - 2; i >= 0; i-- {
		versions = append(versions, version(i+1,
			datatypes.FieldSet{datatypes.FieldCurrentValue: values[i]},
			datatypes.FieldCurrentValue))
	}
	live := liveMetric(values[len(values)-1])

	entries, err := Reconstruct(versions, live)
	require.NoError(t, err)
	require.Len(t, entries, len(values)-1)

	assert.True(t, entries[0].NewValue.Equal(datatypes.ValueOf(*live.CurrentValue)))
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].NewValue.Equal(entries[i-1].OldValue),
			"entry %d new value must equal entry %d old value", i, i-1)
	}
}

func TestReconstruct_MultipleFieldsCanonicalOrder(t *testing.T) {
	v := version(1, datatypes.FieldSet{
		datatypes.FieldCurrentValue: 40.0,
		datatypes.FieldName:         "Mean time",
	}, datatypes.FieldCurrentValue, datatypes.FieldName)

	entries, err := Reconstruct([]datatypes.MetricVersion{v}, liveMetric(32))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, datatypes.FieldName, entries[0].Field)
	assert.Equal(t, "Mean time", entries[0].OldValue.Value())
	assert.Equal(t, "MTTR", entries[0].NewValue.Value())
	assert.Equal(t, datatypes.FieldCurrentValue, entries[1].Field)
}

func TestReconstruct_MissingSnapshotValue(t *testing.T) {
	versions := []datatypes.MetricVersion{
		version(2, datatypes.FieldSet{}, datatypes.FieldOwner),
		version(1, datatypes.FieldSet{datatypes.FieldOwner: nil}, datatypes.FieldOwner),
	}

	entries, err := Reconstruct(versions, liveMetric(1))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.True(t, entries[0].OldValue.Missing())
	assert.False(t, entries[0].NewValue.Missing())
	assert.True(t, entries[1].NewValue.Missing(), "older entry reads the newer snapshot")
	assert.False(t, entries[1].OldValue.Missing(), "explicit nil is not NoValue")
}

func TestReconstruct_Preconditions(t *testing.T) {
	tests := []struct {
		name     string
		versions []datatypes.MetricVersion
		want     error
	}{
		{
			name: "ascending",
			versions: []datatypes.MetricVersion{
				version(1, nil, datatypes.FieldOwner),
				version(2, nil, datatypes.FieldOwner),
			},
			want: ErrUnorderedVersions,
		},
		{
			name: "duplicate number",
			versions: []datatypes.MetricVersion{
				version(3, nil, datatypes.FieldOwner),
				version(3, nil, datatypes.FieldOwner),
			},
			want: ErrUnorderedVersions,
		},
		{
			name: "other metric",
			versions: func() []datatypes.MetricVersion {
				v := version(1, nil, datatypes.FieldOwner)
				v.MetricID = "mttd"
				return []datatypes.MetricVersion{v}
			}(),
			want: ErrForeignVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reconstruct(tt.versions, liveMetric(1))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Reconstruct(nil, nil)
	assert.Error(t, err)
}

func TestReconstruct_EmptyChain(t *testing.T) {
	entries, err := Reconstruct(nil, liveMetric(1))
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}
