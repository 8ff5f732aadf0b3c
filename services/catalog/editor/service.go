// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package editor is the caller-facing API of the metric catalog.
//
// # Description
//
// Service wires the lock coordinator, bulk orchestrator, change feed
// aggregator, and trend recorder over one repository. HTTP handlers and the
// CLI call Service; nothing above it talks to the store directly.
//
// Every operation runs inside an OpenTelemetry span named "editor.<Op>".
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/MetricVault/pkg/validation"
	"github.com/AleutianAI/MetricVault/services/catalog/bulk"
	"github.com/AleutianAI/MetricVault/services/catalog/classify"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/draft"
	"github.com/AleutianAI/MetricVault/services/catalog/history"
	"github.com/AleutianAI/MetricVault/services/catalog/lock"
	"github.com/AleutianAI/MetricVault/services/catalog/observability"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
	"github.com/AleutianAI/MetricVault/services/catalog/trend"
)

// DefaultFeedLimit is the number of versions read by GetChangeFeed.
const DefaultFeedLimit = 50

// DefaultTrendLimit is the number of points returned by GetTrend.
const DefaultTrendLimit = 24

// ErrTrendUnavailable is returned by GetTrend without a recorder.
var ErrTrendUnavailable = errors.New("trend recording is not configured")

// Repository is the store surface the service needs.
type Repository interface {
	store.Repository
	ListMetrics(ctx context.Context, category string) ([]*datatypes.Metric, error)
}

// Config configures a Service.
type Config struct {
	Lock       lock.Config
	Aggregator history.AggregatorConfig

	// Decider answers classification prompts during LockAll. nil fails
	// items that need a decision.
	Decider classify.Decider
}

// Deps are the collaborators of a Service.
type Deps struct {
	// Repository is required.
	Repository Repository

	// Trend receives PERIOD_UPDATE values. nil disables trends.
	Trend trend.Recorder

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Trend is a metric's recent period values with a summary.
type Trend struct {
	Summary trend.Summary `json:"summary"`
	Points  []trend.Point `json:"points"`
}

// Service is the caller-facing editing API.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	repo   Repository
	coord  *lock.Coordinator
	bulk   *bulk.Orchestrator
	agg    *history.Aggregator
	trend  trend.Recorder
	logger *slog.Logger
}

// New builds a Service.
//
// # Outputs
//
//   - *Service: Ready to use.
//   - error: Non-nil if Deps.Repository is nil.
func New(config Config, deps Deps) (*Service, error) {
	if deps.Repository == nil {
		return nil, errors.New("editor requires a repository")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	coord, err := lock.NewCoordinator(config.Lock, lock.Deps{
		Repository: deps.Repository,
		Drafts:     draft.NewBuffer(),
		Trend:      deps.Trend,
		Metrics:    deps.Metrics,
		Logger:     logger.With("component", "lock"),
	})
	if err != nil {
		return nil, err
	}

	opts := []bulk.Option{
		bulk.WithLogger(logger.With("component", "bulk")),
		bulk.WithMetrics(deps.Metrics),
	}
	if config.Decider != nil {
		opts = append(opts, bulk.WithDecider(config.Decider))
	}

	return &Service{
		repo:   deps.Repository,
		coord:  coord,
		bulk:   bulk.NewOrchestrator(coord, opts...),
		agg:    history.NewAggregator(deps.Repository, config.Aggregator, logger.With("component", "history"), deps.Metrics),
		trend:  deps.Trend,
		logger: logger,
	}, nil
}

func metricAttrs(metricID, actor string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("metric.id", metricID)}
	if actor != "" {
		attrs = append(attrs, attribute.String("actor", actor))
	}
	return attrs
}

// BeginEdit unlocks metricID for actor and returns the draft.
func (s *Service) BeginEdit(ctx context.Context, metricID, actor string) (d *datatypes.DraftEdit, err error) {
	ctx, span := observability.StartSpan(ctx, "editor.BeginEdit", metricAttrs(metricID, actor)...)
	defer func() { observability.EndSpan(span, err) }()

	return s.coord.Unlock(ctx, metricID, actor)
}

// SetDraftField buffers one field edit and returns the updated draft.
//
// # Inputs
//
//   - field: Editable field name, e.g. "current_value".
//   - value: Raw value, typically decoded JSON. Coerced to the field kind.
func (s *Service) SetDraftField(ctx context.Context, metricID, actor, field string, value any) (d *datatypes.DraftEdit, err error) {
	_, span := observability.StartSpan(ctx, "editor.SetDraftField",
		append(metricAttrs(metricID, actor), attribute.String("field", field))...)
	defer func() { observability.EndSpan(span, err) }()

	f, err := datatypes.ParseField(field)
	if err != nil {
		return nil, err
	}
	if err := s.coord.SetField(metricID, actor, f, value); err != nil {
		return nil, err
	}
	return s.coord.Draft(metricID, actor)
}

// GetDraft returns actor's draft for metricID.
func (s *Service) GetDraft(ctx context.Context, metricID, actor string) (*datatypes.DraftEdit, error) {
	if err := validation.ValidateMetricID(metricID); err != nil {
		return nil, err
	}
	return s.coord.Draft(metricID, actor)
}

// CommitEdit commits actor's draft and locks the metric.
//
// # Outputs
//
//   - *lock.CommitResult: nil when the metric was already Locked.
//   - error: *classify.ClassificationRequiredError asks the caller to
//     retry with opts.Decision set; the draft is kept.
func (s *Service) CommitEdit(ctx context.Context, metricID, actor string, opts lock.CommitOptions) (res *lock.CommitResult, err error) {
	ctx, span := observability.StartSpan(ctx, "editor.CommitEdit",
		append(metricAttrs(metricID, actor), attribute.String("decision", string(opts.Decision)))...)
	defer func() { observability.EndSpan(span, err) }()

	res, err = s.coord.Lock(ctx, metricID, actor, opts)
	if res != nil && res.Version != nil {
		span.SetAttributes(attribute.Int("version", res.Version.VersionNumber))
	}
	return res, err
}

// CancelEdit discards actor's draft and locks the metric without a patch.
func (s *Service) CancelEdit(ctx context.Context, metricID, actor string) (err error) {
	ctx, span := observability.StartSpan(ctx, "editor.CancelEdit", metricAttrs(metricID, actor)...)
	defer func() { observability.EndSpan(span, err) }()

	return s.coord.Cancel(ctx, metricID, actor)
}

// LockAll commits and locks every metric, isolating failures per item.
func (s *Service) LockAll(ctx context.Context, metricIDs []string, actor string) bulk.Result {
	ctx, span := observability.StartSpan(ctx, "editor.LockAll",
		attribute.Int("metric.count", len(metricIDs)), attribute.String("actor", actor))
	defer span.End()

	res := s.bulk.LockAll(ctx, metricIDs, actor)
	span.SetAttributes(attribute.Int("fail_count", res.FailCount))
	return res
}

// UnlockAll unlocks every metric, isolating failures per item.
func (s *Service) UnlockAll(ctx context.Context, metricIDs []string, actor string) bulk.Result {
	ctx, span := observability.StartSpan(ctx, "editor.UnlockAll",
		attribute.Int("metric.count", len(metricIDs)), attribute.String("actor", actor))
	defer span.End()

	res := s.bulk.UnlockAll(ctx, metricIDs, actor)
	span.SetAttributes(attribute.Int("fail_count", res.FailCount))
	return res
}

// GetChangeFeed returns the reconstructed feed of one metric, newest first.
//
// limit bounds the versions read; <= 0 uses DefaultFeedLimit.
func (s *Service) GetChangeFeed(ctx context.Context, metricID string, limit int) (feed []datatypes.ChangeFeedEntry, err error) {
	ctx, span := observability.StartSpan(ctx, "editor.GetChangeFeed", metricAttrs(metricID, "")...)
	defer func() { observability.EndSpan(span, err) }()

	if err := validation.ValidateMetricID(metricID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultFeedLimit
	}

	versions, err := s.repo.GetMetricVersions(ctx, metricID, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("change feed of %s: %w", metricID, err)
	}
	live, err := s.repo.GetMetric(ctx, metricID)
	if err != nil {
		return nil, fmt.Errorf("change feed of %s: %w", metricID, err)
	}
	return history.Reconstruct(versions, live)
}

// GetAggregatedChangeFeed merges the feeds of metricIDs. Metrics that fail
// to load are skipped.
func (s *Service) GetAggregatedChangeFeed(ctx context.Context, metricIDs []string, perMetricLimit, totalLimit int) (feed []datatypes.ChangeFeedEntry, err error) {
	ctx, span := observability.StartSpan(ctx, "editor.GetAggregatedChangeFeed",
		attribute.Int("metric.count", len(metricIDs)))
	defer func() { observability.EndSpan(span, err) }()

	return s.agg.Feed(ctx, metricIDs, perMetricLimit, totalLimit)
}

// GetMetric returns one metric.
func (s *Service) GetMetric(ctx context.Context, metricID string) (*datatypes.Metric, error) {
	if err := validation.ValidateMetricID(metricID); err != nil {
		return nil, err
	}
	return s.repo.GetMetric(ctx, metricID)
}

// ListMetrics returns metrics ordered by id, filtered by category when set.
func (s *Service) ListMetrics(ctx context.Context, category string) ([]*datatypes.Metric, error) {
	return s.repo.ListMetrics(ctx, category)
}

// ListVersions pages a metric's versions newest first.
func (s *Service) ListVersions(ctx context.Context, metricID string, limit, offset int) ([]datatypes.MetricVersion, error) {
	if err := validation.ValidateMetricID(metricID); err != nil {
		return nil, err
	}
	return s.repo.GetMetricVersions(ctx, metricID, limit, offset)
}

// CompareVersions diffs the snapshots of versions a and b.
func (s *Service) CompareVersions(ctx context.Context, metricID string, a, b int) (diff map[datatypes.Field]datatypes.FieldDiff, err error) {
	ctx, span := observability.StartSpan(ctx, "editor.CompareVersions",
		append(metricAttrs(metricID, ""), attribute.Int("version.a", a), attribute.Int("version.b", b))...)
	defer func() { observability.EndSpan(span, err) }()

	if err := validation.ValidateMetricID(metricID); err != nil {
		return nil, err
	}
	return s.repo.CompareMetricVersions(ctx, metricID, a, b)
}

// GetTrend returns up to limit recent period values and their summary.
// limit <= 0 uses DefaultTrendLimit.
func (s *Service) GetTrend(ctx context.Context, metricID string, limit int) (t *Trend, err error) {
	ctx, span := observability.StartSpan(ctx, "editor.GetTrend", metricAttrs(metricID, "")...)
	defer func() { observability.EndSpan(span, err) }()

	if s.trend == nil {
		return nil, ErrTrendUnavailable
	}
	m, err := s.GetMetric(ctx, metricID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTrendLimit
	}
	points, err := s.trend.Series(ctx, metricID, limit)
	if err != nil {
		return nil, fmt.Errorf("trend of %s: %w", metricID, err)
	}
	return &Trend{
		Summary: trend.Summarize(metricID, points, m.Direction),
		Points:  points,
	}, nil
}
