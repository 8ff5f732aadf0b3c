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
	"fmt"
	"time"
)

// Direction states which way a metric improves.
type Direction string

const (
	DirectionHigherIsBetter Direction = "higher_is_better"
	DirectionLowerIsBetter  Direction = "lower_is_better"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionHigherIsBetter || d == DirectionLowerIsBetter
}

// Metric is a shared catalog record.
//
// # Description
//
// Locked is the edit gate. A Locked metric is read-only; an Unlocked metric
// is held by exactly one actor recorded in LockedBy. LockedBy and LockedAt
// describe the most recent lock transition. New metrics start Locked.
//
// # Thread Safety
//
// Metric values are plain data. Stores hand out copies (see Clone).
type Metric struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Description  string     `json:"description" yaml:"description"`
	Category     string     `json:"category" yaml:"category"`
	Owner        string     `json:"owner" yaml:"owner"`
	CurrentValue *float64   `json:"current_value" yaml:"current_value"`
	TargetValue  *float64   `json:"target_value" yaml:"target_value"`
	TargetUnits  string     `json:"target_units" yaml:"target_units"`
	Direction    Direction  `json:"direction" yaml:"direction"`
	Locked       bool       `json:"locked" yaml:"-"`
	LockedBy     string     `json:"locked_by,omitempty" yaml:"-"`
	LockedAt     *time.Time `json:"locked_at,omitempty" yaml:"-"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"-"`
}

// Clone returns a deep copy of the metric.
func (m *Metric) Clone() *Metric {
	if m == nil {
		return nil
	}
	out := *m
	out.CurrentValue = cloneFloat(m.CurrentValue)
	out.TargetValue = cloneFloat(m.TargetValue)
	if m.LockedAt != nil {
		at := *m.LockedAt
		out.LockedAt = &at
	}
	return &out
}

// EditingBy reports whether the metric is Unlocked and held by actor.
func (m *Metric) EditingBy(actor string) bool {
	return m != nil && !m.Locked && m.LockedBy == actor
}

// Fields returns the editable values of the metric as a FieldSet.
func (m *Metric) Fields() FieldSet {
	return FieldSet{
		FieldName:         m.Name,
		FieldDescription:  m.Description,
		FieldCategory:     m.Category,
		FieldOwner:        m.Owner,
		FieldCurrentValue: floatValue(m.CurrentValue),
		FieldTargetValue:  floatValue(m.TargetValue),
		FieldTargetUnits:  m.TargetUnits,
		FieldDirection:    string(m.Direction),
	}
}

// Apply writes canonical values from set onto the metric.
//
// # Description
//
// Values must already be normalized with CoerceValue. Fields absent from set
// are left unchanged.
//
// # Outputs
//
//   - error: ErrInvalidFieldValue if a value has the wrong canonical type.
func (m *Metric) Apply(set FieldSet) error {
	for field, v := range set {
		if err := m.applyOne(field, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metric) applyOne(field Field, v any) error {
	kind, ok := field.Kind()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	if kind == KindNumber {
		var p *float64
		if v != nil {
			n, ok := v.(float64)
			if !ok {
				return fmt.Errorf("%w: %s holds %T", ErrInvalidFieldValue, field, v)
			}
			p = &n
		}
		if field == FieldCurrentValue {
			m.CurrentValue = p
		} else {
			m.TargetValue = p
		}
		return nil
	}

	s, ok := v.(string)
	if !ok && v != nil {
		return fmt.Errorf("%w: %s holds %T", ErrInvalidFieldValue, field, v)
	}
	switch field {
	case FieldName:
		m.Name = s
	case FieldDescription:
		m.Description = s
	case FieldCategory:
		m.Category = s
	case FieldOwner:
		m.Owner = s
	case FieldTargetUnits:
		m.TargetUnits = s
	case FieldDirection:
		m.Direction = Direction(s)
	}
	return nil
}

func floatValue(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float returns a pointer to v. Convenience for building metrics.
func Float(v float64) *float64 {
	return &v
}
