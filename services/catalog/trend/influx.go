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
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/MetricVault/pkg/validation"
)

const (
	// Measurement is the InfluxDB measurement holding trend points.
	Measurement = "metric_values"

	// seriesLookback bounds the Flux range scan.
	seriesLookback = "-10y"
)

// InfluxRecorder writes trend points to InfluxDB.
//
// # Description
//
// Each point is written to measurement "metric_values" with tag metric_id
// and fields value and (when set) target. Writes use the blocking write API
// so a failed write is reported to the caller.
//
// # Thread Safety
//
// Safe for concurrent use; the influx client APIs are.
type InfluxRecorder struct {
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	logger   *slog.Logger
}

// NewInfluxRecorder builds a recorder from an influx client.
func NewInfluxRecorder(client influxdb2.Client, org, bucket string, logger *slog.Logger) *InfluxRecorder {
	return NewInfluxRecorderFromAPIs(client.WriteAPIBlocking(org, bucket), client.QueryAPI(org), bucket, logger)
}

// NewInfluxRecorderFromAPIs builds a recorder from explicit APIs. Tests pass
// mocks here.
func NewInfluxRecorderFromAPIs(w api.WriteAPIBlocking, q api.QueryAPI, bucket string, logger *slog.Logger) *InfluxRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxRecorder{writeAPI: w, queryAPI: q, bucket: bucket, logger: logger}
}

var _ Recorder = (*InfluxRecorder)(nil)

// Record writes one point.
func (r *InfluxRecorder) Record(ctx context.Context, p Point) error {
	if err := validation.ValidateMetricID(p.MetricID); err != nil {
		return fmt.Errorf("record trend point: %w", err)
	}

	fields := map[string]interface{}{"value": p.Value}
	if p.Target != nil {
		fields["target"] = *p.Target
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	point := influxdb2.NewPoint(
		Measurement,
		map[string]string{"metric_id": p.MetricID},
		fields,
		ts,
	)
	if err := r.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write trend point for %s: %w", p.MetricID, err)
	}
	return nil
}

// Series queries the newest points with Flux and returns them oldest first.
func (r *InfluxRecorder) Series(ctx context.Context, metricID string, limit int) ([]Point, error) {
	// The id is interpolated into Flux; validation prevents injection.
	if err := validation.ValidateMetricID(metricID); err != nil {
		return nil, fmt.Errorf("query trend series: %w", err)
	}

	result, err := r.queryAPI.Query(ctx, r.seriesQuery(metricID, limit))
	if err != nil {
		return nil, fmt.Errorf("query trend series for %s: %w", metricID, err)
	}
	// Guard against nil result (can happen with empty query results)
	if result == nil {
		r.logger.Debug("trend query returned nil result", "metric_id", metricID)
		return []Point{}, nil
	}
	defer result.Close()

	var desc []Point
	for result.Next() {
		record := result.Record()
		p := Point{MetricID: metricID, Timestamp: record.Time()}
		if v, ok := record.ValueByKey("value").(float64); ok {
			p.Value = v
		}
		if v, ok := record.ValueByKey("target").(float64); ok {
			target := v
			p.Target = &target
		}
		desc = append(desc, p)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read trend series for %s: %w", metricID, err)
	}

	out := make([]Point, len(desc))
	for i, p := range desc {
		out[len(desc)-1-i] = p
	}
	return out, nil
}

func (r *InfluxRecorder) seriesQuery(metricID string, limit int) string {
	q := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.metric_id == "%s")
		  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: true)`,
		r.bucket, seriesLookback, Measurement, metricID)
	if limit > 0 {
		q += fmt.Sprintf("\n\t\t  |> limit(n: %d)", limit)
	}
	return q
}
