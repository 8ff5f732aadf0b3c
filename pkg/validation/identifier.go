// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// Metric identifiers end up in storage keys, SQL parameters, and Flux query
// text; actor names end up in the version log. Validating both at the edge
// prevents key-prefix collisions and Flux injection.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// MaxActorLength is the longest accepted actor identity.
const MaxActorLength = 128

// metricIDPattern matches catalog metric identifiers.
// Allows: lowercase letters, digits, dots, underscores, hyphens.
// Max length: 64 characters. No slashes, so ids never span a key prefix.
var metricIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

var (
	// ErrInvalidMetricID is returned for a malformed metric identifier.
	ErrInvalidMetricID = errors.New("invalid metric id")

	// ErrInvalidActor is returned for an empty or malformed actor identity.
	ErrInvalidActor = errors.New("invalid actor")
)

// ValidateMetricID validates a metric identifier.
//
// Valid ids:
//   - 1-64 characters
//   - Lowercase letters a-z and digits 0-9
//   - Dots, underscores, and hyphens after the first character
//
// Example:
//
//	if err := validation.ValidateMetricID(id); err != nil {
//	    return nil, fmt.Errorf("get metric: %w", err)
//	}
//	// Safe to use in a Flux query or badger key
func ValidateMetricID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidMetricID)
	}
	if !metricIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q (must be 1-64 lowercase alphanumeric chars, dots, underscores, or hyphens)", ErrInvalidMetricID, id)
	}
	return nil
}

// ValidateMetricIDs validates multiple identifiers.
// Returns an error listing all invalid ids if any fail validation.
func ValidateMetricIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateMetricID(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %q", ErrInvalidMetricID, invalid)
	}
	return nil
}

// SanitizeMetricID lowercases and trims an id, then validates it.
func SanitizeMetricID(id string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if err := ValidateMetricID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateActor checks that an actor identity is non-empty, printable, and
// at most MaxActorLength bytes.
func ValidateActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidActor)
	}
	if len(actor) > MaxActorLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidActor, MaxActorLength)
	}
	for _, r := range actor {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("%w: contains non-printable character %U", ErrInvalidActor, r)
		}
	}
	return nil
}
