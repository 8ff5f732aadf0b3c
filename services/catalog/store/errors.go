// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a metric or version does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a metric whose id is taken.
	ErrAlreadyExists = errors.New("metric already exists")

	// ErrLockConflict is returned when another actor holds the edit session.
	ErrLockConflict = errors.New("metric is being edited by another actor")

	// ErrNotEditing is returned when a patch comes from an actor that does
	// not hold the edit session.
	ErrNotEditing = errors.New("actor is not editing this metric")

	// ErrUpdateTypeRequired is returned when a patch carries current_value
	// without PERIOD_UPDATE or ADJUSTMENT.
	ErrUpdateTypeRequired = errors.New("update type required when current_value changes")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")
)

// LockConflictError identifies the actor holding the edit session.
//
// # Description
//
// Returned by UnlockMetric and LockMetric when the metric is Unlocked by
// someone else. Callers surface Holder to the user; they must not retry
// automatically.
type LockConflictError struct {
	MetricID string
	Holder   string
	Since    *time.Time
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("metric %s is being edited by %s", e.MetricID, e.Holder)
}

func (e *LockConflictError) Unwrap() error { return ErrLockConflict }

// NotFound builds a wrapped ErrNotFound for a metric id.
func NotFound(metricID string) error {
	return fmt.Errorf("metric %s: %w", metricID, ErrNotFound)
}

// VersionNotFound builds a wrapped ErrNotFound for a version.
func VersionNotFound(metricID string, version int) error {
	return fmt.Errorf("metric %s version %d: %w", metricID, version, ErrNotFound)
}
