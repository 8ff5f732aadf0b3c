// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlstore persists the metric catalog through database/sql.
//
// Two drivers are supported:
//
//   - "sqlite" (modernc.org/sqlite, pure Go): local files or ":memory:"
//   - "pgx" (github.com/jackc/pgx/v5/stdlib): PostgreSQL
//
// Rows keep the record as a JSON payload next to a few indexed columns.
// Every metric row carries a revision counter; writes are conditional
// UPDATE ... WHERE revision = ? statements, so a transition that lost a race
// affects zero rows and is retried against the fresh state.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metrics (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		revision INTEGER NOT NULL,
		payload TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS metrics_category_idx ON metrics (category)`,
	`CREATE TABLE IF NOT EXISTS metric_versions (
		metric_id TEXT NOT NULL,
		version_number INTEGER NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (metric_id, version_number)
	)`,
}

// errStale signals a lost optimistic write; the operation is retried.
var errStale = errors.New("stale revision")

// Config configures the SQL store.
type Config struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string

	// DSN is a file path / ":memory:" for sqlite or a postgres URL.
	DSN string

	// MaxRetries bounds retries after a lost optimistic write.
	MaxRetries int

	Logger *slog.Logger
}

// Store is the database/sql backend.
type Store struct {
	db      *sql.DB
	driver  string
	retries int
	logger  *slog.Logger
	now     store.Clock
}

var _ store.Store = (*Store)(nil)

// Open connects, applies the schema, and returns a Store.
//
// # Description
//
// SQLite is limited to one open connection: SQLite serializes writers
// anyway, and every ":memory:" connection would otherwise be a separate
// database.
//
// # Outputs
//
//   - *Store: Ready store. Call Close when done.
//   - error: Unknown driver, connection, or DDL failure.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.DSN == "" {
			cfg.DSN = "metricvault.db"
		}
		if cfg.DSN != ":memory:" && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("postgres dsn is required")
		}
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 16
	}
	return &Store{db: db, driver: cfg.Driver, retries: retries, logger: logger, now: time.Now}, nil
}

// SetClock overrides the time source. Call before use.
func (s *Store) SetClock(c store.Clock) {
	s.now = c
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) readMetric(ctx context.Context, q queryer, id string) (*datatypes.Metric, int64, error) {
	var (
		revision int64
		payload  string
	)
	err := q.QueryRowContext(ctx, s.rebind(`SELECT revision, payload FROM metrics WHERE id = ?`), id).Scan(&revision, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, store.NotFound(id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("select metric %s: %w", id, err)
	}
	var m datatypes.Metric
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, 0, fmt.Errorf("decode metric %s: %w", id, err)
	}
	return &m, revision, nil
}

func (s *Store) writeMetric(ctx context.Context, tx *sql.Tx, m *datatypes.Metric, revision int64) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metric %s: %w", m.ID, err)
	}
	res, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE metrics SET payload = ?, category = ?, revision = revision + 1 WHERE id = ? AND revision = ?`),
		string(data), m.Category, m.ID, revision)
	if err != nil {
		return fmt.Errorf("update metric %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update metric %s: %w", m.ID, err)
	}
	if n == 0 {
		return errStale
	}
	return nil
}

// inTx runs fn in a transaction, retrying when fn reports errStale.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	for attempt := 0; attempt <= s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.runTx(ctx, fn)
		if !errors.Is(err, errStale) {
			return err
		}
		s.logger.Debug("sql store retrying after concurrent write", "attempt", attempt+1)
	}
	return fmt.Errorf("sql store: retries exhausted: %w", errStale)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) CreateMetric(ctx context.Context, m *datatypes.Metric) error {
	prepared, err := store.PrepareNew(m, s.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(prepared)
	if err != nil {
		return fmt.Errorf("encode metric %s: %w", prepared.ID, err)
	}

	return s.runTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM metrics WHERE id = ?`), prepared.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check metric %s: %w", prepared.ID, err)
		}
		if exists > 0 {
			return store.ErrAlreadyExists
		}
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO metrics (id, category, revision, payload) VALUES (?, ?, 1, ?)`),
			prepared.ID, prepared.Category, string(data))
		if err != nil {
			return fmt.Errorf("insert metric %s: %w", prepared.ID, err)
		}
		return nil
	})
}

func (s *Store) ListMetrics(ctx context.Context, category string) ([]*datatypes.Metric, error) {
	query := `SELECT payload FROM metrics ORDER BY id`
	var args []any
	if category != "" {
		query = `SELECT payload FROM metrics WHERE category = ? ORDER BY id`
		args = append(args, category)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*datatypes.Metric, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var m datatypes.Metric
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("decode metric: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) GetMetric(ctx context.Context, id string) (*datatypes.Metric, error) {
	m, _, err := s.readMetric(ctx, s.db, id)
	return m, err
}

func (s *Store) transition(ctx context.Context, id string, apply func(m *datatypes.Metric, now time.Time) (bool, error)) (*datatypes.Metric, error) {
	var out *datatypes.Metric
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		m, revision, err := s.readMetric(ctx, tx, id)
		if err != nil {
			return err
		}
		changed, err := apply(m, s.now())
		if err != nil {
			return err
		}
		if changed {
			if err := s.writeMetric(ctx, tx, m, revision); err != nil {
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
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		out = nil
		m, revision, err := s.readMetric(ctx, tx, id)
		if err != nil {
			return err
		}

		var last int
		err = tx.QueryRowContext(ctx,
			s.rebind(`SELECT COALESCE(MAX(version_number), 0) FROM metric_versions WHERE metric_id = ?`), id).Scan(&last)
		if err != nil {
			return fmt.Errorf("select last version of %s: %w", id, err)
		}

		v, err := store.ApplyPatch(m, last, req, s.now())
		if err != nil || v == nil {
			return err
		}

		// The metric update runs first so a lost race surfaces as errStale
		// before the version insert can collide on the primary key.
		if err := s.writeMetric(ctx, tx, m, revision); err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode version: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO metric_versions (metric_id, version_number, payload) VALUES (?, ?, ?)`),
			id, v.VersionNumber, string(data))
		if err != nil {
			return fmt.Errorf("insert version %d of %s: %w", v.VersionNumber, id, err)
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetMetricVersions(ctx context.Context, id string, limit, offset int) ([]datatypes.MetricVersion, error) {
	if _, _, err := s.readMetric(ctx, s.db, id); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	// Without a limit, offset rows are skipped client-side: the dialects
	// disagree on how to express OFFSET without LIMIT.
	query := `SELECT payload FROM metric_versions WHERE metric_id = ? ORDER BY version_number DESC`
	args := []any{id}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]datatypes.MetricVersion, 0)
	skipped := 0
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if limit <= 0 && skipped < offset {
			skipped++
			continue
		}
		var v datatypes.MetricVersion
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) readVersion(ctx context.Context, id string, n int) (*datatypes.MetricVersion, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT payload FROM metric_versions WHERE metric_id = ? AND version_number = ?`), id, n).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.VersionNotFound(id, n)
	}
	if err != nil {
		return nil, fmt.Errorf("select version %d of %s: %w", n, id, err)
	}
	var v datatypes.MetricVersion
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	return &v, nil
}

func (s *Store) CompareMetricVersions(ctx context.Context, id string, a, b int) (map[datatypes.Field]datatypes.FieldDiff, error) {
	if _, _, err := s.readMetric(ctx, s.db, id); err != nil {
		return nil, err
	}
	va, err := s.readVersion(ctx, id, a)
	if err != nil {
		return nil, err
	}
	vb, err := s.readVersion(ctx, id, b)
	if err != nil {
		return nil, err
	}
	return store.CompareSnapshots(va.Snapshot, vb.Snapshot), nil
}
