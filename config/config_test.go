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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "./data", cfg.Archive.BaseDir)
	require.Equal(t, "./scanarchive.duckdb", cfg.DuckDB.Path)
	require.Equal(t, 3, cfg.Scan.WindowDays)
	require.Equal(t, 200, cfg.Scan.MaxFiles)
	require.Equal(t, 10_000, cfg.Views.Threshold)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCANARCHIVE_ARCHIVE_BASE_DIR", "/srv/archive")
	t.Setenv("SCANARCHIVE_DUCKDB_PATH", "/srv/archive/scan.duckdb")
	t.Setenv("SCANARCHIVE_DUCKDB_MEMORY_LIMIT_MB", "2048")
	t.Setenv("SCANARCHIVE_SCAN_WINDOW_DAYS", "7")
	t.Setenv("SCANARCHIVE_VIEWS_THRESHOLD", "500")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "/srv/archive", cfg.Archive.BaseDir)
	require.Equal(t, "/srv/archive/scan.duckdb", cfg.DuckDB.Path)
	require.Equal(t, int64(2048), cfg.DuckDB.MemoryLimitMB)
	require.Equal(t, 7, cfg.Scan.WindowDays)
	require.Equal(t, 500, cfg.Views.Threshold)
}
