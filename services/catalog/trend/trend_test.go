// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/MetricVault/pkg/validation"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

// --- Mock InfluxDB WriteAPI ---

type mockWriteAPI struct {
	writePointFunc func(ctx context.Context, point ...*write.Point) error
	written        []*write.Point
}

func (m *mockWriteAPI) WritePoint(ctx context.Context, point ...*write.Point) error {
	m.written = append(m.written, point...)
	if m.writePointFunc != nil {
		return m.writePointFunc(ctx, point...)
	}
	return nil
}

func (m *mockWriteAPI) WriteRecord(ctx context.Context, line ...string) error { return nil }
func (m *mockWriteAPI) EnableBatching()                                       {}
func (m *mockWriteAPI) Flush(ctx context.Context) error                       { return nil }

// --- Mock InfluxDB QueryAPI ---

type mockQueryAPI struct {
	queryFunc func(ctx context.Context, query string) (*api.QueryTableResult, error)
	queries   []string
}

func (m *mockQueryAPI) Query(ctx context.Context, q string) (*api.QueryTableResult, error) {
	m.queries = append(m.queries, q)
	if m.queryFunc != nil {
		return m.queryFunc(ctx, q)
	}
	return nil, nil
}

func (m *mockQueryAPI) QueryRaw(ctx context.Context, query string, dialect *domain.Dialect) (string, error) {
	return "", nil
}

func (m *mockQueryAPI) QueryRawWithParams(ctx context.Context, query string, dialect *domain.Dialect, params interface{}) (string, error) {
	return "", nil
}

func (m *mockQueryAPI) QueryWithParams(ctx context.Context, query string, params interface{}) (*api.QueryTableResult, error) {
	return nil, nil
}

func TestMemoryRecorder_SeriesOldestFirst(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRecorder(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Record(ctx, Point{MetricID: "mttd", Value: float64(i), Timestamp: base.AddDate(0, i, 0)}))
	}

	all, err := r.Series(ctx, "mttd", 0)
	require.NoError(t, err)
	require.Len(t, all, 3, "capacity bounds retention")
	assert.Equal(t, []float64{2, 3, 4}, values(all))

	lastTwo, err := r.Series(ctx, "mttd", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, values(lastTwo))

	none, err := r.Series(ctx, "other", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRingBuffer_BeforeWrap(t *testing.T) {
	rb := newRingBuffer[int](4)
	rb.push(1)
	rb.push(2)
	assert.Equal(t, []int{1, 2}, rb.last(0))
	assert.Equal(t, []int{2}, rb.last(1))
	assert.Equal(t, []int{1, 2}, rb.last(10))
}

func TestSummarize(t *testing.T) {
	pts := func(vals ...float64) []Point {
		out := make([]Point, len(vals))
		for i, v := range vals {
			out[i] = Point{MetricID: "m", Value: v}
		}
		return out
	}

	tests := []struct {
		name      string
		points    []Point
		dir       datatypes.Direction
		want      Direction
		improving bool
	}{
		{"empty", nil, datatypes.DirectionHigherIsBetter, Stable, false},
		{"single point", pts(10), datatypes.DirectionHigherIsBetter, Stable, false},
		{"rising higher is better", pts(10, 12, 15), datatypes.DirectionHigherIsBetter, Up, true},
		{"rising lower is better", pts(10, 15), datatypes.DirectionLowerIsBetter, Up, false},
		{"falling lower is better", pts(40, 30), datatypes.DirectionLowerIsBetter, Down, true},
		{"within band", pts(100, 104), datatypes.DirectionHigherIsBetter, Stable, false},
		{"from zero", pts(0, 3), "", Up, true},
		{"negative baseline rising", pts(-10, -5), datatypes.DirectionHigherIsBetter, Up, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize("m", tt.points, tt.dir)
			assert.Equal(t, tt.want, s.Direction)
			assert.Equal(t, tt.improving, s.Improving)
			assert.Equal(t, len(tt.points), s.DataPoints)
		})
	}

	t.Run("change is relative to the baseline magnitude", func(t *testing.T) {
		assert.InDelta(t, 50.0, Summarize("m", pts(-10, -5), "").ChangePct, 1e-9)
		assert.InDelta(t, -50.0, Summarize("m", pts(-10, -15), "").ChangePct, 1e-9)
	})
}

func TestInfluxRecorder_Record(t *testing.T) {
	w := &mockWriteAPI{}
	r := NewInfluxRecorderFromAPIs(w, &mockQueryAPI{}, "catalog", nil)
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	err := r.Record(context.Background(), Point{MetricID: "mttd", Value: 12, Target: datatypes.Float(8), Timestamp: ts})
	require.NoError(t, err)
	require.Len(t, w.written, 1)

	p := w.written[0]
	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, ts, p.Time())

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 12.0, fields["value"])
	assert.Equal(t, 8.0, fields["target"])

	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "metric_id", p.TagList()[0].Key)
	assert.Equal(t, "mttd", p.TagList()[0].Value)
}

func TestInfluxRecorder_RecordErrors(t *testing.T) {
	w := &mockWriteAPI{writePointFunc: func(context.Context, ...*write.Point) error {
		return errors.New("influx down")
	}}
	r := NewInfluxRecorderFromAPIs(w, &mockQueryAPI{}, "catalog", nil)

	err := r.Record(context.Background(), Point{MetricID: "mttd", Value: 1})
	assert.ErrorContains(t, err, "influx down")

	err = r.Record(context.Background(), Point{MetricID: `x") |> drop()`, Value: 1})
	assert.ErrorIs(t, err, validation.ErrInvalidMetricID)
}

func TestInfluxRecorder_Series(t *testing.T) {
	q := &mockQueryAPI{}
	r := NewInfluxRecorderFromAPIs(&mockWriteAPI{}, q, "catalog", nil)

	t.Run("nil result is empty", func(t *testing.T) {
		pts, err := r.Series(context.Background(), "mttd", 10)
		require.NoError(t, err)
		assert.Empty(t, pts)
		require.NotEmpty(t, q.queries)
		last := q.queries[len(q.queries)-1]
		assert.Contains(t, last, `r.metric_id == "mttd"`)
		assert.Contains(t, last, `from(bucket: "catalog")`)
		assert.Contains(t, last, "limit(n: 10)")
	})

	t.Run("no limit clause when unbounded", func(t *testing.T) {
		_, err := r.Series(context.Background(), "mttd", 0)
		require.NoError(t, err)
		assert.False(t, strings.Contains(q.queries[len(q.queries)-1], "limit("))
	})

	t.Run("query error", func(t *testing.T) {
		q.queryFunc = func(context.Context, string) (*api.QueryTableResult, error) {
			return nil, errors.New("timeout")
		}
		defer func() { q.queryFunc = nil }()
		_, err := r.Series(context.Background(), "mttd", 5)
		assert.ErrorContains(t, err, "timeout")
	})

	t.Run("injection rejected before query", func(t *testing.T) {
		before := len(q.queries)
		_, err := r.Series(context.Background(), `mttd" or true`, 5)
		assert.ErrorIs(t, err, validation.ErrInvalidMetricID)
		assert.Len(t, q.queries, before)
	})
}

func values(pts []Point) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}
