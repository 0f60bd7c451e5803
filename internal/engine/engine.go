// Copyright (C) 2025 Cantonwatch
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package engine manages the embedded DuckDB instance: lazy open, health
// ping, one-shot crash-artifact recovery, and lockfile-based single-instance
// enforcement. Callers only ever see the QueryEngine interface, never the
// driver.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"
)

// ErrDatabaseMissing is returned when the expected database file does not
// exist. Implicitly creating an empty database would silently mask a
// misconfigured data directory, so we refuse.
var ErrDatabaseMissing = errors.New("engine: database file does not exist")

// QueryEngine is the uniform query surface handed to the view and stream
// layers. Concurrent calls are serialized by the driver's own connection
// semantics; this layer adds no extra mutual exclusion around queries.
type QueryEngine interface {
	Query(ctx context.Context, query string) ([]map[string]any, error)
	QueryOne(ctx context.Context, query string) (map[string]any, error)
	Exec(ctx context.Context, query string) error
}

// Diagnostics is the state captured when a health ping fails.
type Diagnostics struct {
	DatabasePath   string
	DatabaseExists bool
	SizeBytes      int64
	WALPresent     bool
	Platform       string
	RecoveryTried  bool
}

type dbConfig struct {
	memoryLimitMB   int64
	threads         int
	poolSize        int
	createIfMissing bool
}

// Option is a functional option for Open.
type Option func(*dbConfig)

// WithMemoryLimitMB caps DuckDB memory (0 = unlimited).
func WithMemoryLimitMB(mb int64) Option {
	return func(cfg *dbConfig) { cfg.memoryLimitMB = mb }
}

// WithThreads sets the DuckDB thread count.
func WithThreads(n int) Option {
	return func(cfg *dbConfig) {
		if n < 1 {
			n = 1
		}
		cfg.threads = n
	}
}

// WithPoolSize sets the sql.DB connection pool size.
func WithPoolSize(n int) Option {
	return func(cfg *dbConfig) {
		if n < 1 {
			n = 1
		}
		cfg.poolSize = n
	}
}

// WithCreateIfMissing permits creating a fresh database file. This is for
// explicit initialization paths (tests, `archive write`); normal startup
// fails fast on a missing file.
func WithCreateIfMissing() Option {
	return func(cfg *dbConfig) { cfg.createIfMissing = true }
}

// DB owns the process's single embedded-engine handle. Construct it once
// and pass it to everything that needs it; there is no package-level state.
type DB struct {
	path       string
	cfg        dbConfig
	instanceID string
	lock       *lockfile

	mu            sync.Mutex
	db            *sql.DB
	recoveryTried bool // deliberately never reset
}

// Open acquires the process lockfile and returns an unconnected handle.
// The first query (or EnsureReady) opens the actual connection.
func Open(path string, opts ...Option) (*DB, error) {
	cfg := dbConfig{
		threads:  runtime.GOMAXPROCS(0),
		poolSize: min(8, max(1, runtime.GOMAXPROCS(0)/2)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	lock, err := acquireLockfile(path)
	if err != nil {
		return nil, err
	}

	return &DB{
		path:       path,
		cfg:        cfg,
		instanceID: uuid.NewString(),
		lock:       lock,
	}, nil
}

// Close tears down the connection and removes the lockfile unconditionally.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		_ = d.db.Close()
		d.db = nil
	}
	if d.lock != nil {
		d.lock.release()
		d.lock = nil
	}
	return nil
}

// EnsureReady opens the connection if absent and issues a health-check
// query. On ping failure it captures diagnostics and, at most once per
// process and only on the platform where WAL/lock corruption is a known
// failure mode, attempts recovery. A second failure is fatal.
func (d *DB) EnsureReady(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureReadyLocked(ctx)
}

func (d *DB) ensureReadyLocked(ctx context.Context) error {
	if d.db == nil {
		if err := d.openLocked(ctx); err != nil {
			return err
		}
	}

	pingErr := d.ping(ctx)
	if pingErr == nil {
		return nil
	}

	diag := d.diagnoseLocked()
	slog.Warn("engine health check failed",
		slog.String("dbPath", d.path),
		slog.Bool("dbExists", diag.DatabaseExists),
		slog.Int64("sizeBytes", diag.SizeBytes),
		slog.Bool("walPresent", diag.WALPresent),
		slog.String("platform", diag.Platform),
		slog.Bool("recoveryTried", diag.RecoveryTried),
		slog.Any("error", pingErr),
	)

	if d.recoveryTried || !recoverablePlatform() {
		return fmt.Errorf("engine: health check failed: %w", pingErr)
	}
	d.recoveryTried = true

	if err := d.recoverLocked(ctx); err != nil {
		return fmt.Errorf("engine: recovery failed: %w", err)
	}
	slog.Info("engine recovered after stale artifact cleanup", slog.String("dbPath", d.path))
	return nil
}

// recoverablePlatform reports whether the stale WAL/lock corruption mode
// applies. It is only known to occur on Windows.
func recoverablePlatform() bool {
	return runtime.GOOS == "windows"
}

func (d *DB) recoverLocked(ctx context.Context) error {
	if d.db != nil {
		_ = d.db.Close()
		d.db = nil
	}

	for _, artifact := range []string{d.path + ".wal", d.path + ".lock"} {
		if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not remove stale engine artifact",
				slog.String("path", artifact), slog.Any("error", err))
		}
	}

	if err := d.openLocked(ctx); err != nil {
		return err
	}
	return d.ping(ctx)
}

func (d *DB) openLocked(ctx context.Context) error {
	if _, err := os.Stat(d.path); err != nil {
		if os.IsNotExist(err) && !d.cfg.createIfMissing {
			return fmt.Errorf("%w: %s", ErrDatabaseMissing, d.path)
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("engine: stat %s: %w", d.path, err)
		}
	}

	connector, err := duckdb.NewConnector(d.dsn(), nil)
	if err != nil {
		return fmt.Errorf("engine: create connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(d.cfg.poolSize)
	db.SetMaxIdleConns(d.cfg.poolSize)
	db.SetConnMaxLifetime(25 * time.Minute)
	d.db = db

	slog.Info("engine opened",
		slog.String("dbPath", d.path),
		slog.String("instanceId", d.instanceID),
		slog.Int("poolSize", d.cfg.poolSize),
		slog.Int("threads", d.cfg.threads),
	)
	return nil
}

func (d *DB) dsn() string {
	params := []string{fmt.Sprintf("threads=%d", d.cfg.threads)}
	if d.cfg.memoryLimitMB > 0 {
		params = append(params, fmt.Sprintf("memory_limit=%dMB", d.cfg.memoryLimitMB))
	}
	return d.path + "?" + strings.Join(params, "&")
}

// ping is the trivial health check. Callers layering a timeout around
// EnsureReady should treat a timeout exactly like a ping failure.
func (d *DB) ping(ctx context.Context) error {
	row := d.db.QueryRowContext(ctx, "SELECT 1")
	var one int
	return row.Scan(&one)
}

// Diagnostics reports the current engine state for the doctor command.
func (d *DB) Diagnostics() Diagnostics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.diagnoseLocked()
}

func (d *DB) diagnoseLocked() Diagnostics {
	diag := Diagnostics{
		DatabasePath:  d.path,
		Platform:      runtime.GOOS,
		RecoveryTried: d.recoveryTried,
	}
	if info, err := os.Stat(d.path); err == nil {
		diag.DatabaseExists = true
		diag.SizeBytes = info.Size()
	}
	if _, err := os.Stat(d.path + ".wal"); err == nil {
		diag.WALPresent = true
	}
	return diag
}

// Query runs a read query and returns all rows as column-name maps.
func (d *DB) Query(ctx context.Context, query string) ([]map[string]any, error) {
	if err := d.EnsureReady(ctx); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("engine: columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("engine: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// QueryOne runs a query expected to return a single row; nil when empty.
func (d *DB) QueryOne(ctx context.Context, query string) (map[string]any, error) {
	rows, err := d.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Exec runs a statement with no result rows.
func (d *DB) Exec(ctx context.Context, query string) error {
	if err := d.EnsureReady(ctx); err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("engine: exec: %w", err)
	}
	return nil
}

// EscapeString escapes a value for inclusion in single-quoted SQL.
func EscapeString(s string) string {
	return strings.ReplaceAll(s, `'`, `''`)
}
