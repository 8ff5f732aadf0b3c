// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bulk runs lock and unlock over a working set of metrics.
//
// Items are processed strictly in order, one at a time. A failing item is
// recorded and the loop continues; the group is not atomic.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/MetricVault/pkg/validation"
	"github.com/AleutianAI/MetricVault/services/catalog/classify"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/lock"
	"github.com/AleutianAI/MetricVault/services/catalog/observability"
)

// ItemResult is the outcome of one metric.
type ItemResult struct {
	MetricID string

	// Err is nil on success.
	Err error

	// Version is set when locking committed a change.
	Version *datatypes.MetricVersion
}

// OK reports whether the item succeeded.
func (r ItemResult) OK() bool { return r.Err == nil }

// Result accumulates per-item outcomes.
//
// SuccessCount + FailCount always equals len(Items), which equals the
// number of ids requested.
type Result struct {
	SuccessCount int
	FailCount    int
	Items        []ItemResult
}

func (r *Result) add(item ItemResult) {
	if item.Err != nil {
		r.FailCount++
	} else {
		r.SuccessCount++
	}
	r.Items = append(r.Items, item)
}

// Failed returns the failing items.
func (r *Result) Failed() []ItemResult {
	var out []ItemResult
	for _, item := range r.Items {
		if item.Err != nil {
			out = append(out, item)
		}
	}
	return out
}

// Response flattens the result for the wire, in request order.
func (r Result) Response() datatypes.BulkResponse {
	out := datatypes.BulkResponse{
		SuccessCount: r.SuccessCount,
		FailCount:    r.FailCount,
		Items:        make([]datatypes.BulkItemResponse, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		resp := datatypes.BulkItemResponse{MetricID: item.MetricID, OK: item.OK()}
		if item.Err != nil {
			resp.Error = item.Err.Error()
		}
		out.Items = append(out.Items, resp)
	}
	return out
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDecider answers classification prompts raised while locking. Without
// one, an item needing a decision fails with ClassificationRequired.
func WithDecider(d classify.Decider) Option {
	return func(o *Orchestrator) { o.decider = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs bulk lock and unlock through a lock.Coordinator.
//
// # Thread Safety
//
// Safe for concurrent use; each call processes its own working set
// sequentially.
type Orchestrator struct {
	coord   *lock.Coordinator
	decider classify.Decider
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewOrchestrator creates an orchestrator over coord.
func NewOrchestrator(coord *lock.Coordinator, opts ...Option) *Orchestrator {
	o := &Orchestrator{coord: coord}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// UnlockAll opens an edit session for actor on every id.
//
// # Outputs
//
//   - Result: One item per id, in request order.
func (o *Orchestrator) UnlockAll(ctx context.Context, metricIDs []string, actor string) Result {
	return o.run(ctx, observability.OpUnlock, metricIDs, func(id string) ItemResult {
		_, err := o.coord.Unlock(ctx, id, actor)
		return ItemResult{MetricID: id, Err: err}
	})
}

// LockAll commits actor's pending drafts and locks every id.
//
// # Description
//
// Each item commits only fields that differ from the committed record, so
// unchanged drafts create no version. When a changed current value needs a
// classification, the configured Decider is asked; its error fails the
// item.
//
// # Outputs
//
//   - Result: One item per id, in request order.
func (o *Orchestrator) LockAll(ctx context.Context, metricIDs []string, actor string) Result {
	return o.run(ctx, observability.OpLock, metricIDs, func(id string) ItemResult {
		return o.lockOne(ctx, id, actor)
	})
}

func (o *Orchestrator) lockOne(ctx context.Context, id, actor string) ItemResult {
	opts := lock.CommitOptions{Source: datatypes.SourceBulk}

	res, err := o.coord.Lock(ctx, id, actor, opts)

	var prompt *classify.ClassificationRequiredError
	if errors.As(err, &prompt) && o.decider != nil {
		decision, derr := o.decider.Decide(ctx, prompt)
		if derr != nil {
			return ItemResult{MetricID: id, Err: fmt.Errorf("classification for %s: %w", id, derr)}
		}
		opts.Decision = decision
		res, err = o.coord.Lock(ctx, id, actor, opts)
	}

	item := ItemResult{MetricID: id, Err: err}
	if res != nil {
		item.Version = res.Version
	}
	return item
}

func (o *Orchestrator) run(ctx context.Context, op observability.Op, metricIDs []string, do func(id string) ItemResult) Result {
	result := Result{Items: make([]ItemResult, 0, len(metricIDs))}

	for _, id := range metricIDs {
		var item ItemResult
		if err := ctx.Err(); err != nil {
			// Remaining items are reported, never silently dropped.
			item = ItemResult{MetricID: id, Err: err}
		} else if err := validation.ValidateMetricID(id); err != nil {
			item = ItemResult{MetricID: id, Err: err}
		} else {
			item = do(id)
		}

		o.metrics.RecordBulkItem(op, item.Err)
		if item.Err != nil {
			o.logger.Warn("Bulk item failed",
				"op", string(op),
				"metric_id", id,
				"error", item.Err)
		}
		result.add(item)
	}

	o.logger.Info("Bulk operation finished",
		"op", string(op),
		"requested", len(metricIDs),
		"success_count", result.SuccessCount,
		"fail_count", result.FailCount)
	return result
}
