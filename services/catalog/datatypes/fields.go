// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared types of the metric catalog editing
// subsystem: metrics, editable fields, versions, and derived change feed
// entries.
//
// # Field Values
//
// Editable fields are addressed by Field and carried in a FieldSet. Every
// value stored in a FieldSet has been normalized by CoerceValue, so a value
// is always one of:
//   - float64 for number fields
//   - string for text fields
//   - nil for a cleared number field
//
// This keeps drafts, patches, and snapshots comparable with ValuesEqual and
// makes JSON round trips (badger, SQL) lossless.
package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Field identifies an editable metric field.
type Field string

const (
	FieldName         Field = "name"
	FieldDescription  Field = "description"
	FieldCategory     Field = "category"
	FieldOwner        Field = "owner"
	FieldCurrentValue Field = "current_value"
	FieldTargetValue  Field = "target_value"
	FieldTargetUnits  Field = "target_units"
	FieldDirection    Field = "direction"
)

// FieldKind is the value kind a field accepts.
type FieldKind int

const (
	KindText FieldKind = iota
	KindNumber
)

var fieldKinds = map[Field]FieldKind{
	FieldName:         KindText,
	FieldDescription:  KindText,
	FieldCategory:     KindText,
	FieldOwner:        KindText,
	FieldCurrentValue: KindNumber,
	FieldTargetValue:  KindNumber,
	FieldTargetUnits:  KindText,
	FieldDirection:    KindText,
}

// editableOrder is the canonical display order of editable fields.
var editableOrder = []Field{
	FieldName,
	FieldDescription,
	FieldCategory,
	FieldOwner,
	FieldCurrentValue,
	FieldTargetValue,
	FieldTargetUnits,
	FieldDirection,
}

var (
	// ErrUnknownField is returned for a field name outside the editable set.
	ErrUnknownField = errors.New("unknown metric field")

	// ErrInvalidFieldValue is returned when a value does not match the field kind.
	ErrInvalidFieldValue = errors.New("invalid field value")
)

// EditableFields returns all editable fields in canonical order.
func EditableFields() []Field {
	out := make([]Field, len(editableOrder))
	copy(out, editableOrder)
	return out
}

// Kind returns the value kind of the field.
func (f Field) Kind() (FieldKind, bool) {
	k, ok := fieldKinds[f]
	return k, ok
}

// Valid reports whether f is an editable field.
func (f Field) Valid() bool {
	_, ok := fieldKinds[f]
	return ok
}

// Rank returns the position of f in canonical order. Unknown fields sort
// after every editable field.
func (f Field) Rank() int {
	for i, e := range editableOrder {
		if e == f {
			return i
		}
	}
	return len(editableOrder)
}

// ParseField converts a caller-supplied name into a Field.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// SortFields sorts fields in place by canonical order.
func SortFields(fields []Field) {
	rank := make(map[Field]int, len(editableOrder))
	for i, f := range editableOrder {
		rank[f] = i
	}
	sort.SliceStable(fields, func(i, j int) bool {
		ri, okI := rank[fields[i]]
		rj, okJ := rank[fields[j]]
		if okI && okJ {
			return ri < rj
		}
		if okI != okJ {
			return okI
		}
		return fields[i] < fields[j]
	})
}

// CoerceValue normalizes raw into the canonical representation for field.
//
// # Description
//
// Number fields accept any Go numeric type or json.Number and return float64.
// nil clears a number field. Text fields accept strings only; nil becomes "".
// The direction field additionally must be a known Direction.
//
// # Inputs
//
//   - field: Target field. Must be editable.
//   - raw: Caller-supplied value, typically decoded from JSON.
//
// # Outputs
//
//   - any: float64, string, or nil.
//   - error: Wraps ErrUnknownField or ErrInvalidFieldValue.
func CoerceValue(field Field, raw any) (any, error) {
	kind, ok := field.Kind()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	switch kind {
	case KindNumber:
		if raw == nil {
			return nil, nil
		}
		n, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a number, got %T", ErrInvalidFieldValue, field, raw)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("%w: %s must be finite", ErrInvalidFieldValue, field)
		}
		return n, nil
	default:
		if raw == nil {
			return "", nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects text, got %T", ErrInvalidFieldValue, field, raw)
		}
		if field == FieldDirection && s != "" && !Direction(s).Valid() {
			return nil, fmt.Errorf("%w: direction %q", ErrInvalidFieldValue, s)
		}
		return s, nil
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ValuesEqual compares two canonical field values.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	default:
		return false
	}
}

// NumberValue extracts a float64 from a canonical value.
func NumberValue(v any) (float64, bool) {
	n, ok := v.(float64)
	return n, ok
}

// FieldSet maps editable fields to canonical values.
type FieldSet map[Field]any

// Clone returns an independent copy of the set.
func (s FieldSet) Clone() FieldSet {
	if s == nil {
		return nil
	}
	out := make(FieldSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Fields returns the keys of the set in canonical order.
func (s FieldSet) Fields() []Field {
	out := make([]Field, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	SortFields(out)
	return out
}

// Has reports whether field is present in the set.
func (s FieldSet) Has(field Field) bool {
	_, ok := s[field]
	return ok
}

// Normalize coerces every value in the set, rejecting unknown fields.
func (s FieldSet) Normalize() (FieldSet, error) {
	out := make(FieldSet, len(s))
	for f, raw := range s {
		v, err := CoerceValue(f, raw)
		if err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, nil
}
