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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/observability"
)

const (
	// DefaultPerMetricLimit is the number of versions fetched per metric.
	DefaultPerMetricLimit = 5

	// DefaultTotalLimit caps the merged feed.
	DefaultTotalLimit = 20

	// DefaultFanout bounds concurrent per-metric fetches.
	DefaultFanout = 8
)

// Source is the part of the persistence collaborator the aggregator reads.
type Source interface {
	GetMetric(ctx context.Context, id string) (*datatypes.Metric, error)
	GetMetricVersions(ctx context.Context, id string, limit, offset int) ([]datatypes.MetricVersion, error)
}

// AggregatorConfig configures an Aggregator. Zero values take defaults.
type AggregatorConfig struct {
	PerMetricLimit int
	TotalLimit     int
	Fanout         int
}

// Aggregator merges the change feeds of several metrics.
//
// # Description
//
// Feed fetches each metric's newest versions and live record concurrently
// (bounded by Fanout), reconstructs each chain, merges, sorts newest first,
// and truncates. A metric that cannot be fetched or reconstructed is logged
// at debug level, counted, and left out; it never fails the aggregate.
//
// # Thread Safety
//
// Safe for concurrent use.
type Aggregator struct {
	source  Source
	config  AggregatorConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAggregator creates an aggregator. logger and metrics may be nil.
func NewAggregator(source Source, config AggregatorConfig, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	if config.PerMetricLimit <= 0 {
		config.PerMetricLimit = DefaultPerMetricLimit
	}
	if config.TotalLimit <= 0 {
		config.TotalLimit = DefaultTotalLimit
	}
	if config.Fanout <= 0 {
		config.Fanout = DefaultFanout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{source: source, config: config, logger: logger, metrics: metrics}
}

// Feed returns the merged change feed of metricIDs.
//
// # Inputs
//
//   - ctx: Cancels outstanding fetches.
//   - metricIDs: Metrics to include. Duplicates are fetched once.
//   - perMetricLimit: Versions per metric; <= 0 uses the configured default.
//   - totalLimit: Maximum entries returned; <= 0 uses the configured default.
//
// # Outputs
//
//   - []ChangeFeedEntry: Sorted by timestamp desc, then metric id asc,
//     version desc, and canonical field order. Non-nil.
//   - error: Only the context error when ctx ends before the fetches finish.
func (a *Aggregator) Feed(ctx context.Context, metricIDs []string, perMetricLimit, totalLimit int) ([]datatypes.ChangeFeedEntry, error) {
	if perMetricLimit <= 0 {
		perMetricLimit = a.config.PerMetricLimit
	}
	if totalLimit <= 0 {
		totalLimit = a.config.TotalLimit
	}

	var (
		mu     sync.Mutex
		merged []datatypes.ChangeFeedEntry
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Fanout)

	for _, id := range dedupe(metricIDs) {
		g.Go(func() error {
			entries, err := a.fetchOne(gCtx, id, perMetricLimit)
			if err != nil {
				// Partial failures are skipped, never propagated.
				a.logger.Debug("Skipping metric in aggregated feed",
					"metric_id", id,
					"error", err)
				a.metrics.RecordFeedFetchFailure()
				return nil
			}
			mu.Lock()
			merged = append(merged, entries...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	SortFeed(merged)
	if len(merged) > totalLimit {
		merged = merged[:totalLimit]
	}
	if merged == nil {
		merged = []datatypes.ChangeFeedEntry{}
	}
	return merged, nil
}

// fetchOne reads the live metric before its versions. A commit landing
// between the two reads shows up as versions newer than live.UpdatedAt;
// those are dropped so the newest kept version pairs with the live value.
func (a *Aggregator) fetchOne(ctx context.Context, id string, limit int) ([]datatypes.ChangeFeedEntry, error) {
	live, err := a.source.GetMetric(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get metric: %w", err)
	}
	versions, err := a.source.GetMetricVersions(ctx, id, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("get versions: %w", err)
	}
	for len(versions) > 0 && versions[0].CreatedAt.After(live.UpdatedAt) {
		versions = versions[1:]
	}
	return Reconstruct(versions, live)
}

// SortFeed orders entries newest first. Ties break by metric id ascending,
// version number descending, then canonical field order.
func SortFeed(entries []datatypes.ChangeFeedEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.MetricID != b.MetricID {
			return a.MetricID < b.MetricID
		}
		if a.VersionNumber != b.VersionNumber {
			return a.VersionNumber > b.VersionNumber
		}
		return a.Field.Rank() < b.Field.Rank()
	})
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
