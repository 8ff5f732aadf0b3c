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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/MetricVault/pkg/validation"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

// PrepareNew validates a metric for insertion and resets its lock state.
//
// Returns the metric ready to persist: Locked, no holder, UpdatedAt = now.
func PrepareNew(m *datatypes.Metric, now time.Time) (*datatypes.Metric, error) {
	if m == nil {
		return nil, fmt.Errorf("create metric: nil metric")
	}
	if err := validation.ValidateMetricID(m.ID); err != nil {
		return nil, fmt.Errorf("create metric: %w", err)
	}
	if m.Direction != "" && !m.Direction.Valid() {
		return nil, fmt.Errorf("create metric %s: %w: direction %q", m.ID, datatypes.ErrInvalidFieldValue, m.Direction)
	}

	out := m.Clone()
	out.Locked = true
	out.LockedBy = ""
	out.LockedAt = nil
	out.UpdatedAt = now
	return out, nil
}

// UnlockTransition applies Locked -> Unlocked to m in place.
//
// # Outputs
//
//   - bool: true when m was modified and must be written back.
//   - error: *LockConflictError when another actor holds a fresh session.
func UnlockTransition(m *datatypes.Metric, actor string, staleBefore, now time.Time) (bool, error) {
	if !m.Locked {
		if m.LockedBy == actor {
			return false, nil
		}
		if !isStale(m, staleBefore) {
			return false, conflict(m)
		}
	}

	at := now
	m.Locked = false
	m.LockedBy = actor
	m.LockedAt = &at
	return true, nil
}

// LockTransition applies Unlocked -> Locked to m in place.
//
// # Outputs
//
//   - bool: true when m was modified and must be written back.
//   - error: *LockConflictError when another actor holds the session.
func LockTransition(m *datatypes.Metric, actor string, now time.Time) (bool, error) {
	if m.Locked {
		return false, nil
	}
	if m.LockedBy != actor {
		return false, conflict(m)
	}

	at := now
	m.Locked = true
	m.LockedBy = actor
	m.LockedAt = &at
	return true, nil
}

func isStale(m *datatypes.Metric, staleBefore time.Time) bool {
	if staleBefore.IsZero() || m.LockedAt == nil {
		return false
	}
	return m.LockedAt.Before(staleBefore)
}

func conflict(m *datatypes.Metric) *LockConflictError {
	e := &LockConflictError{MetricID: m.ID, Holder: m.LockedBy}
	if m.LockedAt != nil {
		at := *m.LockedAt
		e.Since = &at
	}
	return e
}

// ApplyPatch applies req to m in place and builds the resulting version.
//
// # Description
//
// Enforces the patch contract shared by all backends:
//  1. The metric must be Unlocked by req.ChangedBy (ErrNotEditing).
//  2. Fields are normalized; unknown fields or bad kinds are rejected.
//  3. UpdateType is required iff current_value is present
//     (ErrUpdateTypeRequired). A type supplied without current_value is
//     dropped.
//  4. Fields equal to the stored value are ignored. If nothing changes the
//     patch is a no-op and (nil, nil) is returned.
//
// The version's Snapshot is the full editable state before the change.
//
// # Inputs
//
//   - m: Current metric; modified in place on success.
//   - lastVersion: Highest existing version number (0 if none).
//   - req: The patch.
//   - now: Version timestamp.
//
// # Outputs
//
//   - *datatypes.MetricVersion: Version to persist with m, or nil.
//   - error: ErrNotEditing, ErrUpdateTypeRequired, or a datatypes error.
//
// # Assumptions
//
//   - The caller persists m and the version atomically.
func ApplyPatch(m *datatypes.Metric, lastVersion int, req PatchRequest, now time.Time) (*datatypes.MetricVersion, error) {
	if !m.EditingBy(req.ChangedBy) {
		return nil, fmt.Errorf("patch metric %s by %s: %w", m.ID, req.ChangedBy, ErrNotEditing)
	}

	fields, err := req.Fields.Normalize()
	if err != nil {
		return nil, fmt.Errorf("patch metric %s: %w", m.ID, err)
	}

	updateType := req.UpdateType
	if fields.Has(datatypes.FieldCurrentValue) {
		if !updateType.Valid() {
			return nil, fmt.Errorf("patch metric %s: %w", m.ID, ErrUpdateTypeRequired)
		}
	} else {
		updateType = datatypes.UpdateTypeNone
	}

	before := m.Fields()
	changed := make(datatypes.FieldSet, len(fields))
	for f, v := range fields {
		if !datatypes.ValuesEqual(before[f], v) {
			changed[f] = v
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if !changed.Has(datatypes.FieldCurrentValue) {
		updateType = datatypes.UpdateTypeNone
	}

	if err := m.Apply(changed); err != nil {
		return nil, fmt.Errorf("patch metric %s: %w", m.ID, err)
	}
	m.UpdatedAt = now

	source := req.Source
	if source == "" {
		source = datatypes.SourceManual
	}

	return &datatypes.MetricVersion{
		ID:            uuid.NewString(),
		MetricID:      m.ID,
		VersionNumber: lastVersion + 1,
		Snapshot:      before,
		ChangedFields: changed.Fields(),
		ChangedBy:     req.ChangedBy,
		ChangeSource:  source,
		ChangeNotes:   req.Notes,
		UpdateType:    updateType,
		CreatedAt:     now,
	}, nil
}

// CompareSnapshots returns the fields whose values differ between a and b.
// A field absent on one side compares as nil.
func CompareSnapshots(a, b datatypes.FieldSet) map[datatypes.Field]datatypes.FieldDiff {
	out := make(map[datatypes.Field]datatypes.FieldDiff)
	for f, av := range a {
		bv := b[f]
		if !datatypes.ValuesEqual(av, bv) {
			out[f] = datatypes.FieldDiff{From: av, To: bv}
		}
	}
	for f, bv := range b {
		if _, seen := a[f]; seen {
			continue
		}
		if bv != nil {
			out[f] = datatypes.FieldDiff{From: nil, To: bv}
		}
	}
	return out
}

// CompareVersions finds versions a and b in versions and diffs them.
func CompareVersions(metricID string, versions []datatypes.MetricVersion, a, b int) (map[datatypes.Field]datatypes.FieldDiff, error) {
	var va, vb *datatypes.MetricVersion
	for i := range versions {
		if versions[i].VersionNumber == a {
			va = &versions[i]
		}
		if versions[i].VersionNumber == b {
			vb = &versions[i]
		}
	}
	if va == nil {
		return nil, VersionNotFound(metricID, a)
	}
	if vb == nil {
		return nil, VersionNotFound(metricID, b)
	}
	return CompareSnapshots(va.Snapshot, vb.Snapshot), nil
}

// Page returns the limit/offset window of newest-first versions.
// A limit <= 0 returns everything after offset.
func Page(desc []datatypes.MetricVersion, limit, offset int) []datatypes.MetricVersion {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(desc) {
		return []datatypes.MetricVersion{}
	}
	end := len(desc)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]datatypes.MetricVersion, 0, end-offset)
	for _, v := range desc[offset:end] {
		out = append(out, v.Clone())
	}
	return out
}
