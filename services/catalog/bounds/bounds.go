// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bounds rejects implausible current values before they are
// committed to the catalog.
//
// # Rules
//
// Rules are evaluated in order and the first failure wins:
//
//  1. Negative values are rejected.
//  2. With no target (nil or zero) any non-negative value is accepted.
//  3. Percentage-like metrics (units "%" or a target within [95, 105]) are
//     capped at 150.
//  4. Otherwise the value is capped at 10x the target.
//
// The validator is pure and has no side effects.
package bounds

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

const (
	// PercentageCeiling caps percentage-like metrics.
	PercentageCeiling = 150.0

	// TargetMultiplier caps non-percentage metrics relative to their target.
	TargetMultiplier = 10.0

	percentTargetLow  = 95.0
	percentTargetHigh = 105.0
	percentUnits      = "%"
)

// ErrInvalidValue is the sentinel wrapped by every ValidationError.
var ErrInvalidValue = errors.New("invalid metric value")

// ValidationError reports why a current value was rejected.
type ValidationError struct {
	Value   float64
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidValue }

// Validate checks a proposed current value against its target.
//
// # Inputs
//
//   - current: Proposed current value.
//   - target: Target value, nil when the metric has none.
//   - units: Target units; "%" marks a percentage metric.
//
// # Outputs
//
//   - error: nil when plausible, otherwise *ValidationError.
//
// # Examples
//
//	bounds.Validate(51, datatypes.Float(5), "")
//	// "Value exceeds maximum of 50 (10x target of 5)"
func Validate(current float64, target *float64, units string) error {
	if current < 0 {
		return &ValidationError{Value: current, Message: "Value cannot be negative"}
	}

	if target == nil || *target == 0 {
		return nil
	}
	t := *target

	percentLike := units == percentUnits || (t >= percentTargetLow && t <= percentTargetHigh)
	if percentLike && current > PercentageCeiling {
		return &ValidationError{
			Value:   current,
			Message: fmt.Sprintf("Value exceeds maximum of %s for percentage metrics", formatNumber(PercentageCeiling)),
		}
	}

	limit := TargetMultiplier * t
	if current > limit {
		return &ValidationError{
			Value: current,
			Message: fmt.Sprintf("Value exceeds maximum of %s (%sx target of %s)",
				formatNumber(limit), formatNumber(TargetMultiplier), formatNumber(t)),
		}
	}

	return nil
}

// ValidatePatch validates the current_value carried by a patch.
//
// # Description
//
// Patches without current_value, or that clear it, are always valid. Target
// value and units come from the patch when present there, else from the
// committed values, so a commit that changes both value and target is
// judged against the new target.
//
// # Inputs
//
//   - patch: Canonical changed fields.
//   - committed: Authoritative field values before the commit.
//
// # Outputs
//
//   - error: nil or *ValidationError.
func ValidatePatch(patch, committed datatypes.FieldSet) error {
	raw, ok := patch[datatypes.FieldCurrentValue]
	if !ok {
		return nil
	}
	current, ok := datatypes.NumberValue(raw)
	if !ok {
		return nil
	}

	targetRaw, ok := patch[datatypes.FieldTargetValue]
	if !ok {
		targetRaw = committed[datatypes.FieldTargetValue]
	}
	var target *float64
	if t, ok := datatypes.NumberValue(targetRaw); ok {
		target = &t
	}

	unitsRaw, ok := patch[datatypes.FieldTargetUnits]
	if !ok {
		unitsRaw = committed[datatypes.FieldTargetUnits]
	}
	units, _ := unitsRaw.(string)

	return Validate(current, target, units)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
