// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory is an in-process store backend.
//
// All state lives in maps guarded by one mutex; values are cloned on the way
// in and out. Used by tests and as the default server backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
)

// Store is the in-memory backend.
type Store struct {
	mu       sync.Mutex
	metrics  map[string]*datatypes.Metric
	versions map[string][]datatypes.MetricVersion // ascending by number
	now      store.Clock
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(c store.Clock) Option {
	return func(s *Store) { s.now = c }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		metrics:  make(map[string]*datatypes.Metric),
		versions: make(map[string][]datatypes.MetricVersion),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) lookup(id string) (*datatypes.Metric, error) {
	if s.closed {
		return nil, store.ErrStoreClosed
	}
	m, ok := s.metrics[id]
	if !ok {
		return nil, store.NotFound(id)
	}
	return m, nil
}

func (s *Store) CreateMetric(ctx context.Context, m *datatypes.Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepared, err := store.PrepareNew(m, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	if _, exists := s.metrics[prepared.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.metrics[prepared.ID] = prepared
	return nil
}

func (s *Store) ListMetrics(ctx context.Context, category string) ([]*datatypes.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrStoreClosed
	}

	out := make([]*datatypes.Metric, 0, len(s.metrics))
	for _, m := range s.metrics {
		if category == "" || m.Category == category {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetMetric(ctx context.Context, id string) (*datatypes.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (s *Store) UnlockMetric(ctx context.Context, id, actor string, staleBefore time.Time) (*datatypes.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if _, err := store.UnlockTransition(m, actor, staleBefore, s.now()); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (s *Store) LockMetric(ctx context.Context, id, actor string) (*datatypes.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if _, err := store.LockTransition(m, actor, s.now()); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (s *Store) PatchMetric(ctx context.Context, id string, req store.PatchRequest) (*datatypes.MetricVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	// Work on a copy so a rejected patch leaves the stored metric untouched.
	next := m.Clone()
	last := len(s.versions[id])
	v, err := store.ApplyPatch(next, last, req, s.now())
	if err != nil || v == nil {
		return nil, err
	}

	s.metrics[id] = next
	s.versions[id] = append(s.versions[id], v.Clone())
	out := v.Clone()
	return &out, nil
}

func (s *Store) GetMetricVersions(ctx context.Context, id string, limit, offset int) ([]datatypes.MetricVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	return store.Page(s.descending(id), limit, offset), nil
}

func (s *Store) CompareMetricVersions(ctx context.Context, id string, a, b int) (map[datatypes.Field]datatypes.FieldDiff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	return store.CompareVersions(id, s.versions[id], a, b)
}

func (s *Store) descending(id string) []datatypes.MetricVersion {
	asc := s.versions[id]
	out := make([]datatypes.MetricVersion, len(asc))
	for i, v := range asc {
		out[len(asc)-1-i] = v
	}
	return out
}

// Close marks the store closed. Further calls return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
