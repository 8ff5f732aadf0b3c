// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock coordinates the edit lifecycle of shared metric records.
//
// # Lifecycle
//
//	Locked --Unlock(actor)--> Unlocked(actor) --Lock--> Locked
//	                                  \--Cancel--> Locked (no patch)
//
// Unlock seeds a draft with the committed values. SetField edits only the
// draft. Lock runs validate -> classify -> patch, then transitions back to
// Locked and discards the draft. A commit that needs a classification
// decision suspends with *classify.ClassificationRequiredError and keeps the
// draft so the caller can retry with a decision.
//
// The Locked flag itself is owned by the store.Repository and changed only
// through its compare-and-swap operations.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/MetricVault/pkg/validation"
	"github.com/AleutianAI/MetricVault/services/catalog/bounds"
	"github.com/AleutianAI/MetricVault/services/catalog/classify"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/draft"
	"github.com/AleutianAI/MetricVault/services/catalog/observability"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
	"github.com/AleutianAI/MetricVault/services/catalog/trend"
)

// Config configures a Coordinator.
type Config struct {
	// LeaseTTL lets another actor reclaim an edit session whose LockedAt is
	// older than the TTL. 0 disables reclaim.
	LeaseTTL time.Duration

	// Clock returns the current time. nil means time.Now.
	Clock func() time.Time
}

// DefaultConfig returns a Config with reclaim disabled.
func DefaultConfig() Config {
	return Config{}
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	// Repository is required.
	Repository store.Repository

	// Drafts holds uncommitted edits. nil creates a private buffer.
	Drafts *draft.Buffer

	// Trend receives PERIOD_UPDATE values. nil disables trend recording.
	Trend trend.Recorder

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// CommitOptions carries the caller's answers for one commit.
type CommitOptions struct {
	// Decision classifies a changed current_value. Empty suspends the
	// commit when a decision is needed.
	Decision datatypes.UpdateType

	Notes string

	// Source defaults to manual.
	Source datatypes.ChangeSource
}

// CommitResult describes a finished commit.
type CommitResult struct {
	// Version is nil when the draft matched the committed values.
	Version *datatypes.MetricVersion `json:"version,omitempty"`

	// Patch holds the fields that differed from the committed values.
	Patch datatypes.FieldSet `json:"patch"`

	UpdateType datatypes.UpdateType `json:"update_type,omitempty"`

	// TrendRecorded reports whether the value reached the trend recorder.
	TrendRecorded bool `json:"trend_recorded"`
}

// Coordinator runs the lock protocol over a repository and a draft buffer.
//
// # Thread Safety
//
// Safe for concurrent use. Operations on one metric are expected to be
// issued in order by its editing actor; cross-actor races are settled by
// the repository's compare-and-swap.
type Coordinator struct {
	repo    store.Repository
	drafts  *draft.Buffer
	trend   trend.Recorder
	metrics *observability.Metrics
	logger  *slog.Logger
	config  Config
}

// NewCoordinator creates a coordinator.
//
// # Outputs
//
//   - *Coordinator: Ready to use.
//   - error: Non-nil if Deps.Repository is nil.
func NewCoordinator(config Config, deps Deps) (*Coordinator, error) {
	if deps.Repository == nil {
		return nil, errors.New("lock coordinator requires a repository")
	}
	if deps.Drafts == nil {
		deps.Drafts = draft.NewBuffer()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Coordinator{
		repo:    deps.Repository,
		drafts:  deps.Drafts,
		trend:   deps.Trend,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		config:  config,
	}, nil
}

// Drafts returns the coordinator's draft buffer.
func (c *Coordinator) Drafts() *draft.Buffer { return c.drafts }

func validateRequest(metricID, actor string) error {
	if err := validation.ValidateMetricID(metricID); err != nil {
		return err
	}
	return validation.ValidateActor(actor)
}

func conflictWith(m *datatypes.Metric) *store.LockConflictError {
	return &store.LockConflictError{MetricID: m.ID, Holder: m.LockedBy, Since: m.LockedAt}
}

// Unlock starts an edit session for actor.
//
// # Description
//
// Moves the metric Locked -> Unlocked through the repository's CAS and seeds
// a draft with the committed values. Unlocking a metric actor already holds
// succeeds and keeps the existing draft. A draft left over from a session
// that was locked outside this coordinator is replaced. When LeaseTTL is set, a session
// older than the TTL is reclaimed and its draft dropped.
//
// # Outputs
//
//   - *DraftEdit: A copy of the actor's draft.
//   - error: *store.LockConflictError if another actor holds the session,
//     store.ErrNotFound, or a validation error.
func (c *Coordinator) Unlock(ctx context.Context, metricID, actor string) (*datatypes.DraftEdit, error) {
	if err := validateRequest(metricID, actor); err != nil {
		return nil, err
	}

	var staleBefore time.Time
	if c.config.LeaseTTL > 0 {
		staleBefore = c.config.Clock().Add(-c.config.LeaseTTL)
	}

	// A held draft is only the current session's if the metric was already
	// Unlocked by actor. A lock applied elsewhere ends that session.
	resumed := false
	if before, err := c.repo.GetMetric(ctx, metricID); err == nil {
		resumed = before.EditingBy(actor)
	}

	m, err := c.repo.UnlockMetric(ctx, metricID, actor, staleBefore)
	c.metrics.RecordLockTransition(observability.OpUnlock, err)
	if err != nil {
		return nil, fmt.Errorf("unlock %s: %w", metricID, err)
	}

	if existing, ok := c.drafts.Get(metricID); ok {
		if existing.Actor == actor && resumed {
			return existing, nil
		}
		c.logger.Warn("Discarded stale edit session",
			"metric_id", metricID,
			"actor", actor,
			"previous_actor", existing.Actor,
			"started_at", existing.StartedAt)
	}

	d := c.drafts.Begin(m, actor)
	c.logger.Debug("Edit session started",
		"metric_id", metricID,
		"actor", actor)
	return d, nil
}

// SetField buffers one field edit in actor's draft.
//
// # Outputs
//
//   - error: draft.ErrNoDraft without a session, store.ErrNotEditing when
//     the draft belongs to someone else, or a field/value error.
func (c *Coordinator) SetField(metricID, actor string, field datatypes.Field, value any) error {
	if err := validateRequest(metricID, actor); err != nil {
		return err
	}
	d, ok := c.drafts.Get(metricID)
	if !ok {
		return fmt.Errorf("%w: %s", draft.ErrNoDraft, metricID)
	}
	if d.Actor != actor {
		return fmt.Errorf("set %s on %s: %w", field, metricID, store.ErrNotEditing)
	}
	return c.drafts.SetField(metricID, field, value)
}

// Draft returns actor's draft for metricID.
func (c *Coordinator) Draft(metricID, actor string) (*datatypes.DraftEdit, error) {
	d, ok := c.drafts.Get(metricID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", draft.ErrNoDraft, metricID)
	}
	if d.Actor != actor {
		return nil, fmt.Errorf("draft of %s: %w", metricID, store.ErrNotEditing)
	}
	return d, nil
}

// Commit writes actor's pending draft without ending the session.
//
// # Description
//
// Pipeline: compute the patch against the committed record, validate the
// current value, classify a changed current value, patch the repository,
// and record PERIOD_UPDATE values in the trend store. Any failure before
// the patch leaves the draft intact. Once the patch is issued it runs to
// completion even if ctx is cancelled.
//
// # Outputs
//
//   - *CommitResult: Version is nil when nothing changed.
//   - error: *bounds.ValidationError, *classify.ClassificationRequiredError,
//     classify.ErrInvalidDecision, draft.ErrNoDraft, store.ErrNotEditing, or
//     a repository error.
func (c *Coordinator) Commit(ctx context.Context, metricID, actor string, opts CommitOptions) (*CommitResult, error) {
	if err := validateRequest(metricID, actor); err != nil {
		return nil, err
	}
	start := time.Now()

	m, err := c.repo.GetMetric(ctx, metricID)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", metricID, err)
	}
	if !m.EditingBy(actor) {
		if !m.Locked {
			return nil, conflictWith(m)
		}
		return nil, fmt.Errorf("commit %s: %w", metricID, store.ErrNotEditing)
	}
	if d, ok := c.drafts.Get(metricID); ok && d.Actor != actor {
		return nil, fmt.Errorf("commit %s: %w", metricID, store.ErrNotEditing)
	}

	committed := m.Fields()
	patch, err := c.drafts.ComputePatch(metricID, committed)
	if err != nil {
		return nil, err
	}
	result := &CommitResult{Patch: patch}
	if len(patch) == 0 {
		c.metrics.RecordCommit("", observability.StatusNoop, time.Since(start))
		return result, nil
	}

	if err := bounds.ValidatePatch(patch, committed); err != nil {
		c.metrics.RecordValidationFailure()
		c.metrics.RecordCommit("", observability.StatusError, time.Since(start))
		c.logger.Info("Commit rejected by value validation",
			"metric_id", metricID,
			"actor", actor,
			"error", err)
		return nil, err
	}

	updateType, err := classify.Classify(metricID, patch, committed, opts.Decision)
	if err != nil {
		if errors.Is(err, classify.ErrClassificationRequired) {
			c.metrics.RecordCommit("", observability.StatusSuspended, time.Since(start))
		} else {
			c.metrics.RecordCommit("", observability.StatusError, time.Since(start))
		}
		return nil, err
	}
	result.UpdateType = updateType

	source := opts.Source
	if source == "" {
		source = datatypes.SourceManual
	}

	// The patch is not cancellable once issued.
	detached := context.WithoutCancel(ctx)
	v, err := c.repo.PatchMetric(detached, metricID, store.PatchRequest{
		Fields:     patch,
		UpdateType: updateType,
		ChangedBy:  actor,
		Source:     source,
		Notes:      opts.Notes,
	})
	if err != nil {
		c.metrics.RecordCommit(string(updateType), observability.StatusError, time.Since(start))
		c.logger.Error("Patch failed",
			"metric_id", metricID,
			"actor", actor,
			"error", err)
		return nil, fmt.Errorf("patch %s: %w", metricID, err)
	}
	result.Version = v

	if v != nil && classify.TrendVisible(updateType) {
		result.TrendRecorded = c.recordTrend(detached, v, patch, committed)
	}

	status := observability.StatusSuccess
	if v == nil {
		status = observability.StatusNoop
	}
	c.metrics.RecordCommit(string(updateType), status, time.Since(start))

	if v != nil {
		c.logger.Info("Committed metric edit",
			"metric_id", metricID,
			"actor", actor,
			"version", v.VersionNumber,
			"update_type", string(updateType),
			"changed_fields", len(v.ChangedFields))
	}
	return result, nil
}

// recordTrend writes the committed current value to the trend recorder.
// Failures are logged and counted; the version is already recorded.
func (c *Coordinator) recordTrend(ctx context.Context, v *datatypes.MetricVersion, patch, committed datatypes.FieldSet) bool {
	if c.trend == nil {
		return false
	}
	value, ok := datatypes.NumberValue(patch[datatypes.FieldCurrentValue])
	if !ok {
		return false
	}

	targetRaw, ok := patch[datatypes.FieldTargetValue]
	if !ok {
		targetRaw = committed[datatypes.FieldTargetValue]
	}
	var target *float64
	if t, ok := datatypes.NumberValue(targetRaw); ok {
		target = &t
	}

	p := trend.Point{MetricID: v.MetricID, Value: value, Target: target, Timestamp: v.CreatedAt}
	if err := c.trend.Record(ctx, p); err != nil {
		c.metrics.RecordTrendWriteFailure()
		c.logger.Warn("Failed to record trend point",
			"metric_id", v.MetricID,
			"version", v.VersionNumber,
			"error", err)
		return false
	}
	return true
}

// Lock commits actor's draft and ends the session.
//
// # Description
//
// Locking a Locked metric succeeds without change. Otherwise the pending
// draft is committed (see Commit), the metric moves Unlocked -> Locked, and
// the draft is discarded. If the commit fails the metric stays Unlocked and
// the draft is kept.
//
// # Outputs
//
//   - *CommitResult: nil when the metric was already Locked.
//   - error: As Commit, or *store.LockConflictError when another actor
//     holds the session.
func (c *Coordinator) Lock(ctx context.Context, metricID, actor string, opts CommitOptions) (*CommitResult, error) {
	if err := validateRequest(metricID, actor); err != nil {
		return nil, err
	}

	m, err := c.repo.GetMetric(ctx, metricID)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", metricID, err)
	}
	if m.Locked {
		c.dropOrphanDraft(metricID)
		return nil, nil
	}
	if m.LockedBy != actor {
		err := conflictWith(m)
		c.metrics.RecordLockTransition(observability.OpLock, err)
		return nil, err
	}

	result := &CommitResult{}
	if c.drafts.Has(metricID) {
		result, err = c.Commit(ctx, metricID, actor, opts)
		if err != nil {
			return nil, err
		}
	}

	_, err = c.repo.LockMetric(context.WithoutCancel(ctx), metricID, actor)
	c.metrics.RecordLockTransition(observability.OpLock, err)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", metricID, err)
	}
	c.drafts.Clear(metricID)
	return result, nil
}

// Cancel discards actor's draft and ends the session without a patch.
//
// Cancelling a Locked metric succeeds without change.
func (c *Coordinator) Cancel(ctx context.Context, metricID, actor string) error {
	if err := validateRequest(metricID, actor); err != nil {
		return err
	}

	m, err := c.repo.GetMetric(ctx, metricID)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", metricID, err)
	}
	if m.Locked {
		c.dropOrphanDraft(metricID)
		return nil
	}
	if m.LockedBy != actor {
		err := conflictWith(m)
		c.metrics.RecordLockTransition(observability.OpCancel, err)
		return err
	}

	_, err = c.repo.LockMetric(ctx, metricID, actor)
	c.metrics.RecordLockTransition(observability.OpCancel, err)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", metricID, err)
	}
	c.drafts.Clear(metricID)
	c.logger.Debug("Edit session cancelled",
		"metric_id", metricID,
		"actor", actor)
	return nil
}

// dropOrphanDraft clears a draft left behind for a metric that is Locked.
func (c *Coordinator) dropOrphanDraft(metricID string) {
	if c.drafts.Has(metricID) {
		c.drafts.Clear(metricID)
		c.logger.Debug("Dropped draft of locked metric", "metric_id", metricID)
	}
}
