// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// UpdateType classifies a current_value change.
type UpdateType string

const (
	// UpdateTypeNone means no classification applies (current_value untouched).
	UpdateTypeNone UpdateType = ""

	// UpdatePeriod is a new reporting period value. Visible in trends.
	UpdatePeriod UpdateType = "PERIOD_UPDATE"

	// UpdateAdjustment corrects the current period. Audit log only.
	UpdateAdjustment UpdateType = "ADJUSTMENT"
)

// Valid reports whether t is PERIOD_UPDATE or ADJUSTMENT.
func (t UpdateType) Valid() bool {
	return t == UpdatePeriod || t == UpdateAdjustment
}

// ChangeSource names where a change originated.
type ChangeSource string

const (
	SourceManual ChangeSource = "manual"
	SourceBulk   ChangeSource = "bulk"
	SourceSeed   ChangeSource = "seed"
)

// MetricVersion is one immutable entry of a metric's version log.
//
// Snapshot holds the editable values immediately BEFORE the change. The
// after-state of version N is the Snapshot of version N+1, or the live
// metric for the newest version.
type MetricVersion struct {
	ID            string       `json:"id"`
	MetricID      string       `json:"metric_id"`
	VersionNumber int          `json:"version_number"`
	Snapshot      FieldSet     `json:"snapshot"`
	ChangedFields []Field      `json:"changed_fields"`
	ChangedBy     string       `json:"changed_by"`
	ChangeSource  ChangeSource `json:"change_source"`
	ChangeNotes   string       `json:"change_notes,omitempty"`
	UpdateType    UpdateType   `json:"update_type,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Clone returns a deep copy of the version.
func (v MetricVersion) Clone() MetricVersion {
	out := v
	out.Snapshot = v.Snapshot.Clone()
	out.ChangedFields = append([]Field(nil), v.ChangedFields...)
	return out
}

// FieldDiff is the difference of one field between two versions.
type FieldDiff struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// DraftEdit is the uncommitted edit session of one metric.
type DraftEdit struct {
	MetricID  string    `json:"metric_id"`
	Actor     string    `json:"actor"`
	StartedAt time.Time `json:"started_at"`
	Base      FieldSet  `json:"base"`
	Pending   FieldSet  `json:"pending"`
}

// Clone returns a deep copy of the draft.
func (d *DraftEdit) Clone() *DraftEdit {
	if d == nil {
		return nil
	}
	out := *d
	out.Base = d.Base.Clone()
	out.Pending = d.Pending.Clone()
	return &out
}
