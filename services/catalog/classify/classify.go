// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify decides whether a current_value change is a new reporting
// period (PERIOD_UPDATE) or a correction of the current one (ADJUSTMENT).
//
// Only PERIOD_UPDATE values feed trend history. Both kinds are recorded in
// the version log. Classification is required only when the patch changes
// current_value; a missing decision suspends the commit rather than failing
// it, so the caller can ask the user and retry.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

var (
	// ErrClassificationRequired means the commit needs an update type.
	ErrClassificationRequired = errors.New("update classification required")

	// ErrInvalidDecision means the supplied update type is unknown.
	ErrInvalidDecision = errors.New("invalid update type")
)

// ClassificationRequiredError carries the values the user is deciding on.
type ClassificationRequiredError struct {
	MetricID string
	OldValue any
	NewValue any
}

func (e *ClassificationRequiredError) Error() string {
	return fmt.Sprintf("%s: current_value of %s changes from %v to %v",
		ErrClassificationRequired, e.MetricID, datatypes.ValueOf(e.OldValue), datatypes.ValueOf(e.NewValue))
}

func (e *ClassificationRequiredError) Unwrap() error { return ErrClassificationRequired }

// NeedsClassification reports whether patch changes current_value relative
// to committed.
func NeedsClassification(patch, committed datatypes.FieldSet) bool {
	next, ok := patch[datatypes.FieldCurrentValue]
	if !ok {
		return false
	}
	return !datatypes.ValuesEqual(next, committed[datatypes.FieldCurrentValue])
}

// Classify resolves the update type for a patch.
//
// # Description
//
// Returns UpdateTypeNone when current_value is not changing, whatever the
// decision. Otherwise the decision must be PERIOD_UPDATE or ADJUSTMENT; an
// empty decision yields *ClassificationRequiredError.
//
// # Inputs
//
//   - metricID: For error context.
//   - patch: Canonical changed fields.
//   - committed: Authoritative values before the commit.
//   - decision: Caller's answer, possibly empty.
//
// # Outputs
//
//   - datatypes.UpdateType: Resolved type.
//   - error: *ClassificationRequiredError or ErrInvalidDecision.
func Classify(metricID string, patch, committed datatypes.FieldSet, decision datatypes.UpdateType) (datatypes.UpdateType, error) {
	if !NeedsClassification(patch, committed) {
		return datatypes.UpdateTypeNone, nil
	}

	switch {
	case decision == datatypes.UpdateTypeNone:
		return datatypes.UpdateTypeNone, &ClassificationRequiredError{
			MetricID: metricID,
			OldValue: committed[datatypes.FieldCurrentValue],
			NewValue: patch[datatypes.FieldCurrentValue],
		}
	case decision.Valid():
		return decision, nil
	default:
		return datatypes.UpdateTypeNone, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
}

// ParseDecision converts caller text into an UpdateType. Empty input is the
// "no decision yet" value.
func ParseDecision(s string) (datatypes.UpdateType, error) {
	t := datatypes.UpdateType(s)
	if t == datatypes.UpdateTypeNone || t.Valid() {
		return t, nil
	}
	return datatypes.UpdateTypeNone, fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// TrendVisible reports whether values committed under t belong in trends.
func TrendVisible(t datatypes.UpdateType) bool {
	return t == datatypes.UpdatePeriod
}

// Decider answers classification prompts during multi-item flows.
type Decider interface {
	// Decide returns the update type for the pending change, or an error
	// to skip the item.
	Decide(ctx context.Context, prompt *ClassificationRequiredError) (datatypes.UpdateType, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, prompt *ClassificationRequiredError) (datatypes.UpdateType, error)

func (f DeciderFunc) Decide(ctx context.Context, prompt *ClassificationRequiredError) (datatypes.UpdateType, error) {
	return f(ctx, prompt)
}

// Always returns a Decider that answers every prompt with t.
func Always(t datatypes.UpdateType) Decider {
	return DeciderFunc(func(context.Context, *ClassificationRequiredError) (datatypes.UpdateType, error) {
		return t, nil
	})
}
