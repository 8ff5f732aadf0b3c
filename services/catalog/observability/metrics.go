// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the catalog editor.
//
// # Description
//
// Prometheus metrics cover the edit lifecycle:
//   - Commits (by update type and status)
//   - Lock transitions (unlock, lock, cancel)
//   - Bulk items (by operation and status)
//   - Validation, trend write, and feed fetch failures
//   - Commit latency
//
// Metrics register on an injected prometheus.Registerer so tests can use an
// isolated registry. All recorder methods are safe on a nil *Metrics, which
// lets components run uninstrumented.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "metricvault"

const catalogSubsystem = "catalog"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	// StatusSuspended marks a commit waiting on a classification decision.
	StatusSuspended = "suspended"

	// StatusNoop marks a commit or transition that changed nothing.
	StatusNoop = "noop"
)

// Op labels lock transitions and bulk items.
type Op string

const (
	OpUnlock Op = "unlock"
	OpLock   Op = "lock"
	OpCancel Op = "cancel"
)

// Metrics holds the Prometheus collectors of the catalog editor.
//
// # Fields
//
//   - CommitsTotal: commits by update_type and status
//   - LockTransitionsTotal: lock transitions by op and status
//   - BulkItemsTotal: bulk items by op and status
//   - ValidationFailuresTotal: commits rejected by the value validator
//   - TrendWriteFailuresTotal: PERIOD_UPDATE values the trend store refused
//   - FeedFetchFailuresTotal: per-metric fetches skipped by the aggregator
//   - CommitDurationSeconds: commit pipeline latency
type Metrics struct {
	CommitsTotal            *prometheus.CounterVec
	LockTransitionsTotal    *prometheus.CounterVec
	BulkItemsTotal          *prometheus.CounterVec
	ValidationFailuresTotal prometheus.Counter
	TrendWriteFailuresTotal prometheus.Counter
	FeedFetchFailuresTotal  prometheus.Counter
	CommitDurationSeconds   prometheus.Histogram
}

// NewMetrics creates and registers the catalog metrics.
//
// # Inputs
//
//   - reg: Registry to register on. nil creates unregistered collectors.
//
// # Outputs
//
//   - *Metrics: Ready-to-use metrics.
//
// # Limitations
//
//   - Panics on duplicate registration with the same registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: catalogSubsystem,
				Name:      "commits_total",
				Help:      "Total draft commits by update type and status",
			},
			[]string{"update_type", "status"},
		),

		LockTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: catalogSubsystem,
				Name:      "lock_transitions_total",
				Help:      "Total lock transitions by operation and status",
			},
			[]string{"op", "status"},
		),

		BulkItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: catalogSubsystem,
				Name:      "bulk_items_total",
				Help:      "Total bulk operation items by operation and status",
			},
			[]string{"op", "status"},
		),

		ValidationFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: catalogSubsystem,
				Name:      "validation_failures_total",
				Help:      "Total commits rejected by value validation",
			},
		),

		TrendWriteFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: catalogSubsystem,
				Name:      "trend_write_failures_total",
				Help:      "Total period values that could not be written to the trend store",
			},
		),

		FeedFetchFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: catalogSubsystem,
				Name:      "feed_fetch_failures_total",
				Help:      "Total per-metric fetches skipped while aggregating change feeds",
			},
		),

		CommitDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: catalogSubsystem,
				Name:      "commit_duration_seconds",
				Help:      "Commit pipeline duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
	}
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordCommit records a finished commit attempt.
//
// # Inputs
//
//   - updateType: The classified update type; empty when none applied.
//   - result: One of the Status* values.
//   - elapsed: Pipeline duration.
func (m *Metrics) RecordCommit(updateType, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if updateType == "" {
		updateType = "none"
	}
	m.CommitsTotal.WithLabelValues(updateType, result).Inc()
	m.CommitDurationSeconds.Observe(elapsed.Seconds())
}

// RecordLockTransition records one lock transition outcome.
func (m *Metrics) RecordLockTransition(op Op, err error) {
	if m == nil {
		return
	}
	m.LockTransitionsTotal.WithLabelValues(string(op), status(err)).Inc()
}

// RecordBulkItem records one bulk item outcome.
func (m *Metrics) RecordBulkItem(op Op, err error) {
	if m == nil {
		return
	}
	m.BulkItemsTotal.WithLabelValues(string(op), status(err)).Inc()
}

// RecordValidationFailure increments the validation failure counter.
func (m *Metrics) RecordValidationFailure() {
	if m == nil {
		return
	}
	m.ValidationFailuresTotal.Inc()
}

// RecordTrendWriteFailure increments the trend write failure counter.
func (m *Metrics) RecordTrendWriteFailure() {
	if m == nil {
		return
	}
	m.TrendWriteFailuresTotal.Inc()
}

// RecordFeedFetchFailure increments the feed fetch failure counter.
func (m *Metrics) RecordFeedFetchFailure() {
	if m == nil {
		return
	}
	m.FeedFetchFailuresTotal.Inc()
}
