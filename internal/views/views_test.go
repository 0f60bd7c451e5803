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

package views

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantonwatch/scanarchive/internal/partition"
)

// fakeEngine records executed statements and optionally fails them.
type fakeEngine struct {
	execs   []string
	failOn  string
	failAll bool
}

func (f *fakeEngine) Query(ctx context.Context, q string) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeEngine) QueryOne(ctx context.Context, q string) (map[string]any, error) {
	return nil, nil
}

func (f *fakeEngine) Exec(ctx context.Context, q string) error {
	f.execs = append(f.execs, q)
	if f.failAll || (f.failOn != "" && strings.Contains(q, f.failOn)) {
		return errors.New("boom")
	}
	return nil
}

func touchParquet(t *testing.T, base string, typ partition.DataType, n int) {
	t.Helper()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	dir := filepath.FromSlash(partition.DayDir(base, typ, 1, day))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < n; i++ {
		name := partition.FileName(typ, int64(1717200000000+i), partition.ColumnarExt)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
}

func TestRefreshCreatesLiveViews(t *testing.T) {
	base := t.TempDir()
	touchParquet(t, base, partition.DataTypeEvents, 3)
	touchParquet(t, base, partition.DataTypeUpdates, 2)

	qe := &fakeEngine{}
	m := NewManager(qe, base, 100, 0)
	m.Refresh(context.Background())

	ev, ok := m.Get(partition.DataTypeEvents)
	require.True(t, ok)
	assert.Equal(t, KindLive, ev.Kind)
	assert.Equal(t, 3, ev.FileCount)
	assert.Contains(t, ev.Glob, "events/**/events-*.parquet")

	up, ok := m.Get(partition.DataTypeUpdates)
	require.True(t, ok)
	assert.Equal(t, KindLive, up.Kind)

	require.Len(t, qe.execs, 2)
	assert.Contains(t, qe.execs[0], "CREATE OR REPLACE VIEW scan_events")
	assert.Contains(t, qe.execs[0], "read_parquet(")
	assert.Contains(t, qe.execs[0], "union_by_name=true")
}

func TestRefreshPlaceholderWhenEmpty(t *testing.T) {
	qe := &fakeEngine{}
	m := NewManager(qe, t.TempDir(), 100, 0)
	m.Refresh(context.Background())

	ev, ok := m.Get(partition.DataTypeEvents)
	require.True(t, ok)
	assert.Equal(t, KindPlaceholder, ev.Kind)
	assert.Equal(t, 0, ev.FileCount)

	// Placeholder views are typed, zero-row selects.
	require.Len(t, qe.execs, 2)
	assert.Contains(t, qe.execs[0], "WHERE false")
	assert.Contains(t, qe.execs[0], "CAST(NULL AS VARCHAR) AS event_id")
}

func TestThresholdForcesBothPlaceholders(t *testing.T) {
	base := t.TempDir()
	touchParquet(t, base, partition.DataTypeEvents, 6)
	touchParquet(t, base, partition.DataTypeUpdates, 1)

	qe := &fakeEngine{}
	m := NewManager(qe, base, 5, 0)
	m.Refresh(context.Background())

	ev, _ := m.Get(partition.DataTypeEvents)
	up, _ := m.Get(partition.DataTypeUpdates)
	assert.Equal(t, KindPlaceholder, ev.Kind)
	assert.Equal(t, KindPlaceholder, up.Kind, "one oversized type degrades both views")
}

func TestCreateFailureDowngradesToPlaceholder(t *testing.T) {
	base := t.TempDir()
	touchParquet(t, base, partition.DataTypeEvents, 2)

	qe := &fakeEngine{failOn: "read_parquet"}
	m := NewManager(qe, base, 100, 0)
	m.Refresh(context.Background())

	ev, ok := m.Get(partition.DataTypeEvents)
	require.True(t, ok)
	assert.Equal(t, KindPlaceholder, ev.Kind)
}

func TestRefreshSurvivesTotalEngineFailure(t *testing.T) {
	base := t.TempDir()
	touchParquet(t, base, partition.DataTypeEvents, 2)

	qe := &fakeEngine{failAll: true}
	m := NewManager(qe, base, 100, 0)

	// Must not panic or return an error surface; registry still populated.
	m.Refresh(context.Background())
	assert.Len(t, m.Views(), 2)
}

func TestCountCapsAtScanCap(t *testing.T) {
	base := t.TempDir()
	touchParquet(t, base, partition.DataTypeEvents, 30)

	m := NewManager(&fakeEngine{}, base, 10, 12)
	assert.Equal(t, 12, m.countColumnarFiles(partition.DataTypeEvents))
}
