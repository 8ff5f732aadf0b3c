// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package draft buffers uncommitted field edits per metric.
//
// A draft exists only while its metric is Unlocked. The buffer never touches
// the authoritative record; ComputePatch diffs the pending edits against
// committed values supplied by the caller.
package draft

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

var (
	// ErrNoDraft is returned when a metric has no open edit session.
	ErrNoDraft = errors.New("no draft for metric")
)

// Buffer holds one DraftEdit per metric id.
//
// # Thread Safety
//
// Buffer is safe for concurrent use. Drafts are copied in and out, so
// callers never share maps with the buffer.
type Buffer struct {
	mu     sync.Mutex
	drafts map[string]*datatypes.DraftEdit
	now    func() time.Time
}

// NewBuffer creates an empty draft buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		drafts: make(map[string]*datatypes.DraftEdit),
		now:    time.Now,
	}
}

// Begin opens a draft seeded with the metric's committed values.
//
// # Description
//
// Replaces any existing draft for the metric. Pending starts as a copy of
// the committed values, so Get always shows the full would-be record.
func (b *Buffer) Begin(metric *datatypes.Metric, actor string) *datatypes.DraftEdit {
	base := metric.Fields()
	d := &datatypes.DraftEdit{
		MetricID:  metric.ID,
		Actor:     actor,
		StartedAt: b.now(),
		Base:      base,
		Pending:   base.Clone(),
	}

	b.mu.Lock()
	b.drafts[metric.ID] = d
	b.mu.Unlock()

	return d.Clone()
}

// SetField buffers one field edit.
//
// # Outputs
//
//   - error: ErrNoDraft without an open draft; datatypes.ErrUnknownField or
//     datatypes.ErrInvalidFieldValue for bad input.
func (b *Buffer) SetField(metricID string, field datatypes.Field, value any) error {
	v, err := datatypes.CoerceValue(field, value)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.drafts[metricID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDraft, metricID)
	}
	d.Pending[field] = v
	return nil
}

// ComputePatch returns the pending fields that differ from committed.
//
// # Description
//
// Only fields whose buffered value differs from the authoritative value are
// emitted. Calling it twice without an intervening SetField returns the same
// patch. An empty (non-nil) FieldSet means nothing to commit.
//
// # Inputs
//
//   - metricID: Metric whose draft to diff.
//   - committed: Authoritative values, normally GetMetric(...).Fields().
//
// # Outputs
//
//   - datatypes.FieldSet: Changed fields with their pending values.
//   - error: ErrNoDraft.
func (b *Buffer) ComputePatch(metricID string, committed datatypes.FieldSet) (datatypes.FieldSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.drafts[metricID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDraft, metricID)
	}

	patch := make(datatypes.FieldSet)
	for field, pending := range d.Pending {
		if current, ok := committed[field]; ok && datatypes.ValuesEqual(current, pending) {
			continue
		}
		patch[field] = pending
	}
	return patch, nil
}

// Get returns a copy of the metric's draft.
func (b *Buffer) Get(metricID string) (*datatypes.DraftEdit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.drafts[metricID]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Has reports whether the metric has an open draft.
func (b *Buffer) Has(metricID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.drafts[metricID]
	return ok
}

// Clear discards the metric's draft. Clearing a missing draft is a no-op.
func (b *Buffer) Clear(metricID string) {
	b.mu.Lock()
	delete(b.drafts, metricID)
	b.mu.Unlock()
}

// Len returns the number of open drafts.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.drafts)
}
