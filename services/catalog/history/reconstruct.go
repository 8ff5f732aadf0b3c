// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history derives before/after change feeds from version logs.
//
// # Description
//
// A MetricVersion stores only the state BEFORE its change. The after-state
// of version N is therefore the snapshot of version N+1, and for the newest
// version it is the live metric. Reconstruct applies that rule to a
// newest-first chain; Aggregator fans out over several metrics and merges
// their feeds.
//
// # Telescoping
//
// For a field changed by consecutive versions, the NewValue of the older
// entry equals the OldValue of the newer one, and the newest entry's
// NewValue equals the live value.
package history

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

var (
	// ErrUnorderedVersions is returned when a chain is not strictly
	// descending by version number.
	ErrUnorderedVersions = errors.New("versions not strictly descending")

	// ErrForeignVersion is returned when a chain contains a version of
	// another metric.
	ErrForeignVersion = errors.New("version belongs to another metric")
)

// Reconstruct builds the change feed of one metric.
//
// # Description
//
// For each version i and each field it changed, emits one entry with
// OldValue = versions[i].Snapshot[field] and NewValue = the live value when
// i == 0, else versions[i-1].Snapshot[field]. Values absent from a snapshot
// become datatypes.NoValue. Entries are ordered newest version first and, within
// a version, by canonical field order.
//
// # Inputs
//
//   - versions: The newest versions of the metric, strictly descending by
//     VersionNumber. versions[0] must be the newest recorded version.
//   - live: The current metric.
//
// # Outputs
//
//   - []ChangeFeedEntry: Non-nil, possibly empty.
//   - error: ErrUnorderedVersions or ErrForeignVersion on a malformed chain.
func Reconstruct(versions []datatypes.MetricVersion, live *datatypes.Metric) ([]datatypes.ChangeFeedEntry, error) {
	if live == nil {
		return nil, errors.New("reconstruct: live metric is nil")
	}
	for i, v := range versions {
		if v.MetricID != live.ID {
			return nil, fmt.Errorf("%w: version %d is for %q, not %q",
				ErrForeignVersion, v.VersionNumber, v.MetricID, live.ID)
		}
		if i > 0 && v.VersionNumber >= versions[i-1].VersionNumber {
			return nil, fmt.Errorf("%w: version %d follows %d",
				ErrUnorderedVersions, v.VersionNumber, versions[i-1].VersionNumber)
		}
	}

	liveFields := live.Fields()
	entries := make([]datatypes.ChangeFeedEntry, 0, len(versions))

	for i, v := range versions {
		after := liveFields
		if i > 0 {
			after = versions[i-1].Snapshot
		}

		changed := append([]datatypes.Field(nil), v.ChangedFields...)
		datatypes.SortFields(changed)

		for _, f := range changed {
			entries = append(entries, datatypes.ChangeFeedEntry{
				Timestamp:     v.CreatedAt,
				MetricID:      v.MetricID,
				VersionNumber: v.VersionNumber,
				Field:         f,
				OldValue:      datatypes.LookupValue(v.Snapshot, f),
				NewValue:      datatypes.LookupValue(after, f),
				ChangedBy:     v.ChangedBy,
				Source:        v.ChangeSource,
				UpdateType:    v.UpdateType,
			})
		}
	}
	return entries, nil
}
