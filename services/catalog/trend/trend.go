// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trend records period values of metrics for trend display.
//
// Only commits classified PERIOD_UPDATE reach a Recorder. Adjustments
// correct the current period and stay in the version log only.
//
// Two recorders are provided:
//
//   - MemoryRecorder: bounded per-metric ring buffers
//   - InfluxRecorder: InfluxDB measurement "metric_values"
package trend

import (
	"context"
	"math"
	"time"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

// Point is one recorded period value.
type Point struct {
	MetricID  string    `json:"metric_id"`
	Value     float64   `json:"value"`
	Target    *float64  `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder stores and returns trend points.
type Recorder interface {
	// Record appends a point to the metric's series.
	Record(ctx context.Context, p Point) error

	// Series returns up to limit most recent points, oldest first.
	// limit <= 0 returns all retained points.
	Series(ctx context.Context, metricID string, limit int) ([]Point, error)
}

// Direction indicates the direction of a trend.
type Direction string

const (
	Up     Direction = "UP"
	Down   Direction = "DOWN"
	Stable Direction = "STABLE"
)

// stableBand is the relative change, in percent, treated as no movement.
const stableBand = 5.0

// Summary describes the movement of a series.
type Summary struct {
	MetricID   string    `json:"metric_id"`
	Direction  Direction `json:"direction"`
	ChangePct  float64   `json:"change_pct"`
	Improving  bool      `json:"improving"`
	DataPoints int       `json:"data_points"`
	First      *Point    `json:"first,omitempty"`
	Last       *Point    `json:"last,omitempty"`
}

// Summarize compares the first and last points of an oldest-first series.
//
// # Description
//
// Changes within +/-5% are STABLE. Improving is judged against the metric
// direction: rising values improve higher_is_better metrics, falling
// values improve lower_is_better ones. A STABLE series is never improving.
//
// # Inputs
//
//   - metricID: For the summary.
//   - points: Oldest first.
//   - dir: The metric's direction; empty means higher_is_better.
//
// # Outputs
//
//   - Summary: Always populated; fewer than two points yields STABLE.
func Summarize(metricID string, points []Point, dir datatypes.Direction) Summary {
	s := Summary{MetricID: metricID, Direction: Stable, DataPoints: len(points)}
	if len(points) == 0 {
		return s
	}

	first, last := points[0], points[len(points)-1]
	s.First, s.Last = &first, &last
	if len(points) < 2 {
		return s
	}

	switch {
	case first.Value != 0:
		s.ChangePct = (last.Value - first.Value) / math.Abs(first.Value) * 100
	case last.Value > 0:
		s.ChangePct = 100
	case last.Value < 0:
		s.ChangePct = -100
	}

	switch {
	case s.ChangePct > stableBand:
		s.Direction = Up
	case s.ChangePct < -stableBand:
		s.Direction = Down
	}

	if dir == datatypes.DirectionLowerIsBetter {
		s.Improving = s.Direction == Down
	} else {
		s.Improving = s.Direction == Up
	}
	return s
}
