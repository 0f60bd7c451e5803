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

// Package views maintains the named SQL views downstream queries refer to.
// Each data type gets one view over a recursive parquet glob. When the
// archive grows past a file-count threshold, materializing views becomes a
// metadata hazard, so both views degrade to typed empty placeholders and
// callers fall back to direct glob queries per request.
package views

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cantonwatch/scanarchive/internal/engine"
	"github.com/cantonwatch/scanarchive/internal/partition"
)

// Kind says whether a view is backed by real files or is a placeholder.
type Kind string

const (
	KindLive        Kind = "live"
	KindPlaceholder Kind = "placeholder"
)

// View is one registry entry.
type View struct {
	Name      string
	Type      partition.DataType
	Kind      Kind
	Glob      string
	FileCount int // capped at the scan cap
}

const (
	DefaultThreshold = 10_000
	DefaultScanCap   = 12_000
)

// Manager builds and refreshes the view registry against one engine.
type Manager struct {
	qe        engine.QueryEngine
	base      string
	threshold int
	scanCap   int

	mu    sync.Mutex
	views map[string]View
}

// NewManager creates a manager. Call Refresh to actually build views.
func NewManager(qe engine.QueryEngine, base string, threshold, scanCap int) *Manager {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if scanCap <= threshold {
		scanCap = threshold + threshold/5
	}
	return &Manager{
		qe:        qe,
		base:      base,
		threshold: threshold,
		scanCap:   scanCap,
		views:     make(map[string]View),
	}
}

// ViewName returns the stable SQL view name for a data type.
func ViewName(typ partition.DataType) string {
	return "scan_" + string(typ)
}

// Refresh re-counts files and (re)creates both views. If either type's
// file count exceeds the threshold, both views become placeholders so
// callers use direct glob queries instead. View creation failures never
// propagate; the failed view is downgraded to a placeholder.
func (m *Manager) Refresh(ctx context.Context) {
	counts := map[partition.DataType]int{}
	for _, typ := range []partition.DataType{partition.DataTypeEvents, partition.DataTypeUpdates} {
		counts[typ] = m.countColumnarFiles(typ)
	}

	oversized := counts[partition.DataTypeEvents] > m.threshold ||
		counts[partition.DataTypeUpdates] > m.threshold
	if oversized {
		slog.Warn("archive exceeds view materialization threshold, using placeholder views",
			slog.Int("events", counts[partition.DataTypeEvents]),
			slog.Int("updates", counts[partition.DataTypeUpdates]),
			slog.Int("threshold", m.threshold),
		)
	}

	for _, typ := range []partition.DataType{partition.DataTypeEvents, partition.DataTypeUpdates} {
		m.buildView(ctx, typ, counts[typ], oversized)
	}
}

func (m *Manager) buildView(ctx context.Context, typ partition.DataType, count int, forcePlaceholder bool) {
	glob := partition.Glob(m.base, typ, partition.ColumnarExt, nil)
	entry := View{
		Name:      ViewName(typ),
		Type:      typ,
		Glob:      glob,
		FileCount: count,
	}

	if forcePlaceholder || count == 0 {
		m.createPlaceholder(ctx, typ)
		entry.Kind = KindPlaceholder
	} else {
		stmt := fmt.Sprintf(
			"CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet('%s', union_by_name=true)",
			ViewName(typ), engine.EscapeString(glob),
		)
		if err := m.qe.Exec(ctx, stmt); err != nil {
			slog.Error("view creation failed, downgrading to placeholder",
				slog.String("view", ViewName(typ)), slog.Any("error", err))
			m.createPlaceholder(ctx, typ)
			entry.Kind = KindPlaceholder
		} else {
			entry.Kind = KindLive
		}
	}

	m.mu.Lock()
	m.views[entry.Name] = entry
	m.mu.Unlock()
}

func (m *Manager) createPlaceholder(ctx context.Context, typ partition.DataType) {
	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s",
		ViewName(typ), placeholderSelect(typ))
	if err := m.qe.Exec(ctx, stmt); err != nil {
		// Even the placeholder failed; record keeping continues and the
		// host stays up.
		slog.Error("placeholder view creation failed",
			slog.String("view", ViewName(typ)), slog.Any("error", err))
	}
}

// placeholderSelect yields a zero-row SELECT whose columns carry the
// canonical types, so downstream SQL referencing the view still resolves.
func placeholderSelect(typ partition.DataType) string {
	var cols []string
	switch typ {
	case partition.DataTypeEvents:
		cols = []string{
			"CAST(NULL AS VARCHAR) AS event_id",
			"CAST(NULL AS VARCHAR) AS update_id",
			"CAST(NULL AS VARCHAR) AS event_type",
			"CAST(NULL AS VARCHAR) AS synchronizer_id",
			"CAST(NULL AS BIGINT) AS migration_id",
			"CAST(NULL AS BIGINT) AS effective_at",
			"CAST(NULL AS BIGINT) AS recorded_at",
			"CAST(NULL AS VARCHAR) AS contract_id",
			"CAST(NULL AS VARCHAR) AS template_id",
			"CAST(NULL AS VARCHAR) AS package_name",
			"CAST(NULL AS VARCHAR) AS payload",
			"CAST(NULL AS VARCHAR) AS signatories",
			"CAST(NULL AS VARCHAR) AS observers",
			"CAST(NULL AS VARCHAR) AS choice",
			"CAST(NULL AS BOOLEAN) AS consuming",
			"CAST(NULL AS VARCHAR) AS exercise_result",
		}
	default:
		cols = []string{
			"CAST(NULL AS VARCHAR) AS update_id",
			"CAST(NULL AS VARCHAR) AS update_type",
			"CAST(NULL AS VARCHAR) AS synchronizer_id",
			"CAST(NULL AS VARCHAR) AS workflow_id",
			"CAST(NULL AS VARCHAR) AS command_id",
			"CAST(NULL AS BIGINT) AS migration_id",
			"CAST(NULL AS BIGINT) AS record_time",
			"CAST(NULL AS BIGINT) AS effective_at",
			"CAST(NULL AS BIGINT) AS \"offset\"",
			"CAST(NULL AS BIGINT) AS event_count",
		}
	}
	return "SELECT " + strings.Join(cols, ", ") + " WHERE false"
}

// countColumnarFiles walks the type's subtree counting parquet files,
// stopping once the scan cap is hit. Unreadable directories count as empty.
func (m *Manager) countColumnarFiles(typ partition.DataType) int {
	root := filepath.Join(m.base, string(typ))
	prefix := string(typ) + "-"

	count := 0
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, partition.ColumnarExt) {
			count++
			if count >= m.scanCap {
				return fs.SkipAll
			}
		}
		return nil
	})
	return count
}

// Views lists the current registry entries.
func (m *Manager) Views() []View {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]View, 0, len(m.views))
	for _, v := range m.views {
		out = append(out, v)
	}
	return out
}

// Get returns one registry entry by data type.
func (m *Manager) Get(typ partition.DataType) (View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[ViewName(typ)]
	return v, ok
}
