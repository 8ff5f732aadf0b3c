// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the persistence contract of the metric catalog and
// the transition rules shared by every backend.
//
// # Backends
//
//   - store/memory: in-process maps, used by tests and the default server
//   - store/badgerstore: embedded BadgerDB
//   - store/sqlstore: database/sql over SQLite or PostgreSQL
//
// Backends differ only in how they persist and serialize. Lock transitions
// go through UnlockTransition/LockTransition and patches through ApplyPatch,
// so every backend enforces identical semantics.
//
// # Locking
//
// The metric's Locked flag is the only shared mutable state of an edit.
// UnlockMetric and LockMetric are compare-and-swap operations: the check and
// the write happen inside one backend transaction, so when two actors race
// to unlock the same metric exactly one wins and the other receives a
// *LockConflictError.
package store

import (
	"context"
	"io"
	"time"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

// PatchRequest carries one committed edit.
type PatchRequest struct {
	// Fields holds canonical changed values. Only differing fields matter;
	// fields equal to the stored value are not recorded as changed.
	Fields datatypes.FieldSet

	// UpdateType is required iff Fields contains current_value.
	UpdateType datatypes.UpdateType

	// ChangedBy must be the actor holding the edit session.
	ChangedBy string

	Source datatypes.ChangeSource
	Notes  string
}

// Repository is the collaborator consumed by the lock coordinator, the bulk
// orchestrator, and the audit aggregator.
type Repository interface {
	// GetMetric returns a copy of the metric or ErrNotFound.
	GetMetric(ctx context.Context, id string) (*datatypes.Metric, error)

	// UnlockMetric moves a metric Locked -> Unlocked for actor.
	//
	// Unlocking a metric already held by actor succeeds without change.
	// A metric held by another actor is reclaimed only when staleBefore is
	// non-zero and the holder's LockedAt is before it; otherwise the call
	// fails with *LockConflictError.
	UnlockMetric(ctx context.Context, id, actor string, staleBefore time.Time) (*datatypes.Metric, error)

	// LockMetric moves a metric Unlocked -> Locked.
	//
	// Locking a Locked metric succeeds without change. A metric held by
	// another actor fails with *LockConflictError.
	LockMetric(ctx context.Context, id, actor string) (*datatypes.Metric, error)

	// PatchMetric applies a patch and appends exactly one MetricVersion.
	//
	// Returns (nil, nil) when the patch changes nothing.
	PatchMetric(ctx context.Context, id string, req PatchRequest) (*datatypes.MetricVersion, error)

	// GetMetricVersions returns versions newest-first.
	GetMetricVersions(ctx context.Context, id string, limit, offset int) ([]datatypes.MetricVersion, error)

	// CompareMetricVersions diffs the snapshots of versions a and b.
	CompareMetricVersions(ctx context.Context, id string, a, b int) (map[datatypes.Field]datatypes.FieldDiff, error)
}

// CatalogWriter manages catalog membership. Used by seeding and listing.
type CatalogWriter interface {
	// CreateMetric inserts a new metric. New metrics are stored Locked.
	CreateMetric(ctx context.Context, m *datatypes.Metric) error

	// ListMetrics returns metrics ordered by id, optionally filtered by
	// category (empty matches all).
	ListMetrics(ctx context.Context, category string) ([]*datatypes.Metric, error)
}

// Store is a complete backend.
type Store interface {
	Repository
	CatalogWriter
	io.Closer
}

// Clock returns the current time. Backends accept one for tests.
type Clock func() time.Time
