// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
)

const (
	metricPrefix  = "metric/"
	versionPrefix = "version/"
)

func metricKey(id string) []byte {
	return []byte(metricPrefix + id)
}

func versionPrefixFor(id string) []byte {
	return []byte(versionPrefix + id + "/")
}

func versionKey(id string, n int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", versionPrefix, id, n))
}

// Store is the BadgerDB backend.
//
// # Thread Safety
//
// Safe for concurrent use; consistency comes from badger transactions.
type Store struct {
	db      *badger.DB
	gc      *gcRunner
	retries int
	now     store.Clock
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) a badger-backed store.
//
// # Inputs
//
//   - cfg: Database configuration. Path required unless InMemory.
//
// # Outputs
//
//   - *Store: Ready store. Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, retries: cfg.ConflictRetries, now: time.Now}
	if s.retries < 0 {
		s.retries = 0
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("start value log GC: %w", err)
		}
		s.gc = runner
	}
	return s, nil
}

// SetClock overrides the time source. Call before use.
func (s *Store) SetClock(c store.Clock) {
	s.now = c
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func readMetric(txn *badger.Txn, id string) (*datatypes.Metric, error) {
	var m datatypes.Metric
	if err := getJSON(txn, metricKey(id), &m); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, store.NotFound(id)
		}
		return nil, fmt.Errorf("read metric %s: %w", id, err)
	}
	return &m, nil
}

// lastVersion returns the highest version number for id, 0 if none.
func lastVersion(txn *badger.Txn, id string) (int, error) {
	prefix := versionPrefixFor(id)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xFF)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}

	var n int
	suffix := string(it.Item().Key()[len(prefix):])
	if _, err := fmt.Sscanf(suffix, "%d", &n); err != nil {
		return 0, fmt.Errorf("parse version key %q: %w", it.Item().Key(), err)
	}
	return n, nil
}

func (s *Store) CreateMetric(ctx context.Context, m *datatypes.Metric) error {
	prepared, err := store.PrepareNew(m, s.now())
	if err != nil {
		return err
	}

	return s.withTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(metricKey(prepared.ID))
		if err == nil {
			return store.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check metric %s: %w", prepared.ID, err)
		}
		return setJSON(txn, metricKey(prepared.ID), prepared)
	})
}

func (s *Store) ListMetrics(ctx context.Context, category string) ([]*datatypes.Metric, error) {
	out := make([]*datatypes.Metric, 0)
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metricPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var m datatypes.Metric
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if category == "" || m.Category == category {
				out = append(out, &m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetMetric(ctx context.Context, id string) (*datatypes.Metric, error) {
	var m *datatypes.Metric
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		m, err = readMetric(txn, id)
		return err
	})
	return m, err
}

// transition runs a lock state change as compare-and-swap.
func (s *Store) transition(ctx context.Context, id string, apply func(m *datatypes.Metric, now time.Time) (bool, error)) (*datatypes.Metric, error) {
	var out *datatypes.Metric
	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		m, err := readMetric(txn, id)
		if err != nil {
			return err
		}
		changed, err := apply(m, s.now())
		if err != nil {
			return err
		}
		if changed {
			if err := setJSON(txn, metricKey(id), m); err != nil {
				return err
			}
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UnlockMetric(ctx context.Context, id, actor string, staleBefore time.Time) (*datatypes.Metric, error) {
	return s.transition(ctx, id, func(m *datatypes.Metric, now time.Time) (bool, error) {
		return store.UnlockTransition(m, actor, staleBefore, now)
	})
}

func (s *Store) LockMetric(ctx context.Context, id, actor string) (*datatypes.Metric, error) {
	return s.transition(ctx, id, func(m *datatypes.Metric, now time.Time) (bool, error) {
		return store.LockTransition(m, actor, now)
	})
}

func (s *Store) PatchMetric(ctx context.Context, id string, req store.PatchRequest) (*datatypes.MetricVersion, error) {
	var out *datatypes.MetricVersion
	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		out = nil
		m, err := readMetric(txn, id)
		if err != nil {
			return err
		}
		last, err := lastVersion(txn, id)
		if err != nil {
			return err
		}

		v, err := store.ApplyPatch(m, last, req, s.now())
		if err != nil || v == nil {
			return err
		}

		if err := setJSON(txn, versionKey(id, v.VersionNumber), v); err != nil {
			return err
		}
		if err := setJSON(txn, metricKey(id), m); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// versionsDesc loads every version of id, newest first.
func versionsDesc(txn *badger.Txn, id string) ([]datatypes.MetricVersion, error) {
	prefix := versionPrefixFor(id)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []datatypes.MetricVersion
	for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
		var v datatypes.MetricVersion
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) GetMetricVersions(ctx context.Context, id string, limit, offset int) ([]datatypes.MetricVersion, error) {
	var out []datatypes.MetricVersion
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		if _, err := readMetric(txn, id); err != nil {
			return err
		}
		all, err := versionsDesc(txn, id)
		if err != nil {
			return err
		}
		out = store.Page(all, limit, offset)
		return nil
	})
	return out, err
}

func (s *Store) CompareMetricVersions(ctx context.Context, id string, a, b int) (map[datatypes.Field]datatypes.FieldDiff, error) {
	var out map[datatypes.Field]datatypes.FieldDiff
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		if _, err := readMetric(txn, id); err != nil {
			return err
		}
		var va, vb datatypes.MetricVersion
		if err := getJSON(txn, versionKey(id, a), &va); err != nil {
			return versionErr(id, a, err)
		}
		if err := getJSON(txn, versionKey(id, b), &vb); err != nil {
			return versionErr(id, b, err)
		}
		out = store.CompareSnapshots(va.Snapshot, vb.Snapshot)
		return nil
	})
	return out, err
}

func versionErr(id string, n int, err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.VersionNotFound(id, n)
	}
	return fmt.Errorf("read version %d of %s: %w", n, id, err)
}
