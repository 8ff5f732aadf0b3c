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

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FeedValue is a field value in a change feed entry. It distinguishes an
// explicit nil value from a value that was absent from the snapshot.
type FeedValue struct {
	value   any
	missing bool
}

// NoValue marks a value that was not present in the version snapshot.
var NoValue = FeedValue{missing: true}

// ValueOf wraps a canonical field value.
func ValueOf(v any) FeedValue {
	return FeedValue{value: v}
}

// LookupValue reads field from set, returning NoValue when absent.
func LookupValue(set FieldSet, field Field) FeedValue {
	v, ok := set[field]
	if !ok {
		return NoValue
	}
	return ValueOf(v)
}

// Missing reports whether the value is the NoValue sentinel.
func (v FeedValue) Missing() bool { return v.missing }

// Value returns the wrapped value. nil for NoValue.
func (v FeedValue) Value() any { return v.value }

// Equal compares two feed values, treating NoValue as distinct from nil.
func (v FeedValue) Equal(o FeedValue) bool {
	if v.missing || o.missing {
		return v.missing == o.missing
	}
	return ValuesEqual(v.value, o.value)
}

// String renders the value for terminal output.
func (v FeedValue) String() string {
	if v.missing {
		return "(no value)"
	}
	switch x := v.value.(type) {
	case nil:
		return "(empty)"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		if x == "" {
			return "(empty)"
		}
		return x
	default:
		return fmt.Sprint(x)
	}
}

// MarshalJSON encodes the wrapped value; NoValue encodes as null.
func (v FeedValue) MarshalJSON() ([]byte, error) {
	if v.missing {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

// ChangeFeedEntry is one derived (version, field) change.
//
// OldValue is the field's value in the version snapshot; NewValue is the
// value in the next newer snapshot or the live metric.
type ChangeFeedEntry struct {
	Timestamp     time.Time    `json:"timestamp"`
	MetricID      string       `json:"metric_id"`
	VersionNumber int          `json:"version_number"`
	Field         Field        `json:"field"`
	OldValue      FeedValue    `json:"old_value"`
	NewValue      FeedValue    `json:"new_value"`
	ChangedBy     string       `json:"changed_by"`
	Source        ChangeSource `json:"source"`
	UpdateType    UpdateType   `json:"update_type,omitempty"`
}

// MarshalJSON adds old_missing/new_missing flags so clients can tell a
// NoValue apart from an explicit null.
func (e ChangeFeedEntry) MarshalJSON() ([]byte, error) {
	type plain ChangeFeedEntry
	return json.Marshal(struct {
		plain
		OldMissing bool `json:"old_missing,omitempty"`
		NewMissing bool `json:"new_missing,omitempty"`
	}{
		plain:      plain(e),
		OldMissing: e.OldValue.Missing(),
		NewMissing: e.NewValue.Missing(),
	})
}
