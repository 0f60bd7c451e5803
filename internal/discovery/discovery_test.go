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

package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantonwatch/scanarchive/internal/partition"
)

func touch(t *testing.T, p string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
}

func dayPath(base string, typ partition.DataType, migration int, day time.Time, name string) string {
	return filepath.Join(filepath.FromSlash(partition.DayDir(base, typ, migration, day)), name)
}

func TestDetectFormatPrefersColumnar(t *testing.T) {
	base := t.TempDir()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	touch(t, dayPath(base, partition.DataTypeEvents, 1, day, "events-1000000000001.parquet"))
	touch(t, dayPath(base, partition.DataTypeEvents, 1, day, "events-1000000000002.pb.gz"))

	assert.Equal(t, FormatColumnar, DetectFormat(base, partition.DataTypeEvents))
}

func TestDetectFormatBinaryOnly(t *testing.T) {
	base := t.TempDir()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	touch(t, dayPath(base, partition.DataTypeUpdates, 1, day, "updates-1000000000001.pb.gz"))

	assert.Equal(t, FormatBinary, DetectFormat(base, partition.DataTypeUpdates))
}

func TestDetectFormatNoneIsNotAnError(t *testing.T) {
	base := t.TempDir()
	assert.Equal(t, FormatNone, DetectFormat(base, partition.DataTypeEvents))

	// A directory that does not even exist is still "none".
	assert.Equal(t, FormatNone, DetectFormat(filepath.Join(base, "missing"), partition.DataTypeEvents))
}

func TestDetectorCacheAndInvalidate(t *testing.T) {
	base := t.TempDir()
	d := NewDetector(time.Minute)
	defer d.Close()

	assert.Equal(t, FormatNone, d.Detect(base, partition.DataTypeEvents))

	// A file appearing after the probe is hidden until invalidation.
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	touch(t, dayPath(base, partition.DataTypeEvents, 1, day, "events-1000000000001.parquet"))
	assert.Equal(t, FormatNone, d.Detect(base, partition.DataTypeEvents))

	d.Invalidate()
	assert.Equal(t, FormatColumnar, d.Detect(base, partition.DataTypeEvents))

	// Invalidating twice leaves the same observable state as once.
	d.Invalidate()
	d.Invalidate()
	assert.Equal(t, FormatColumnar, d.Detect(base, partition.DataTypeEvents))
}

func TestBoundedScanWindowAndOrder(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	touch(t, dayPath(base, partition.DataTypeEvents, 1, now, "events-1000000000005.pb.gz"))
	touch(t, dayPath(base, partition.DataTypeEvents, 1, now, "events-1000000000009.pb.gz"))
	touch(t, dayPath(base, partition.DataTypeEvents, 1, now.AddDate(0, 0, -1), "events-1000000000007.pb.gz"))
	// Outside the window: must not appear.
	touch(t, dayPath(base, partition.DataTypeEvents, 1, now.AddDate(0, 0, -10), "events-1000000000001.pb.gz"))
	// Wrong extension: must not appear.
	touch(t, dayPath(base, partition.DataTypeEvents, 1, now, "events-1000000000008.parquet"))

	files := BoundedScan(base, partition.DataTypeEvents, BoundedOptions{Window: 3, Now: now})
	require.Len(t, files, 3)

	// Partition date descending, then write recency descending.
	assert.Contains(t, files[0].Path, "events-1000000000009.pb.gz")
	assert.Contains(t, files[1].Path, "events-1000000000005.pb.gz")
	assert.Contains(t, files[2].Path, "events-1000000000007.pb.gz")

	for _, f := range files {
		require.NotNil(t, f.Migration)
		assert.Equal(t, 1, *f.Migration)
		assert.Equal(t, FormatBinary, f.Format)
	}
}

func TestBoundedScanCap(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		touch(t, dayPath(base, partition.DataTypeEvents, 2, now, fmt.Sprintf("events-10000000000%02d.pb.gz", i)))
	}

	files := BoundedScan(base, partition.DataTypeEvents, BoundedOptions{Window: 1, MaxFiles: 4, Now: now})
	assert.Len(t, files, 4)
}

func TestBoundedScanMissingBaseIsEmpty(t *testing.T) {
	files := BoundedScan(filepath.Join(t.TempDir(), "nope"), partition.DataTypeEvents, BoundedOptions{})
	assert.Empty(t, files)
}

func TestFullScanCollectsEverything(t *testing.T) {
	base := t.TempDir()
	for mig := 1; mig <= 2; mig++ {
		for d := 0; d < 4; d++ {
			day := time.Date(2025, 2, 1+d, 0, 0, 0, 0, time.UTC)
			touch(t, dayPath(base, partition.DataTypeUpdates, mig, day, fmt.Sprintf("updates-10000000000%d%d.pb.gz", mig, d)))
		}
	}
	// Non-matching junk alongside.
	touch(t, filepath.Join(base, "updates", "README.txt"))

	files := FullScan(base, partition.DataTypeUpdates, partition.BinaryExt)
	assert.Len(t, files, 8)
	for _, f := range files {
		assert.Equal(t, partition.DataTypeUpdates, f.Type)
		assert.False(t, f.PartitionDate.IsZero())
	}
}

func TestFullScanMissingBaseIsEmpty(t *testing.T) {
	assert.Empty(t, FullScan(filepath.Join(t.TempDir(), "nope"), partition.DataTypeEvents, ""))
}
