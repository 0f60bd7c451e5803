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

// Package partition implements the Hive-style partition path conventions
// used by the scan archive:
//
//	<base>/<events|updates>/migration=<int>/year=<yyyy>/month=<mm>/day=<dd>/<type>-<millis>.<ext>
//
// Snapshot data carries an additional snapshot_id=<token> segment. All glob
// patterns are built with forward slashes regardless of platform, since
// DuckDB's glob matcher only understands POSIX separators.
package partition

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DataType identifies which record stream a file belongs to.
type DataType string

const (
	DataTypeEvents  DataType = "events"
	DataTypeUpdates DataType = "updates"
)

// File extensions for the two physical encodings. The legacy binary
// encoding uses a two-part extension.
const (
	ColumnarExt = ".parquet"
	BinaryExt   = ".pb.gz"
)

var (
	migrationRe = regexp.MustCompile(`migration=(\d+)`)
	snapshotRe  = regexp.MustCompile(`snapshot_id=([^/\\]+)`)
	dateRe      = regexp.MustCompile(`year=(\d{4})/month=(\d{1,2})/day=(\d{1,2})`)
	millisRe    = regexp.MustCompile(`-(\d{10,16})\.`)
)

// Normalize converts a path to forward slashes. Glob construction and all
// partition regexes require POSIX separators on every platform.
func Normalize(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// DateFilter narrows a glob to a partition subtree. Year is required when a
// filter is used; Month and Day are optional refinements (zero = any).
type DateFilter struct {
	Year  int
	Month int
	Day   int
}

// Glob returns a recursive glob matching every file of the given type and
// extension under base, optionally scoped to a date partition.
func Glob(base string, typ DataType, ext string, filter *DateFilter) string {
	base = Normalize(base)
	file := string(typ) + "-*" + ext

	if filter == nil || filter.Year == 0 {
		return path.Join(base, string(typ), "**", file)
	}

	segs := []string{base, string(typ), "migration=*", fmt.Sprintf("year=%04d", filter.Year)}
	switch {
	case filter.Month != 0 && filter.Day != 0:
		segs = append(segs, fmt.Sprintf("month=%02d", filter.Month), fmt.Sprintf("day=%02d", filter.Day))
	case filter.Month != 0:
		segs = append(segs, fmt.Sprintf("month=%02d", filter.Month), "**")
	default:
		segs = append(segs, "**")
	}
	segs = append(segs, file)
	return path.Join(segs...)
}

// DayDir returns the partition directory for one migration epoch and
// calendar day.
func DayDir(base string, typ DataType, migration int, day time.Time) string {
	return path.Join(Normalize(base), string(typ),
		fmt.Sprintf("migration=%d", migration),
		fmt.Sprintf("year=%04d", day.Year()),
		fmt.Sprintf("month=%02d", int(day.Month())),
		fmt.Sprintf("day=%02d", day.Day()),
	)
}

// FileName builds the canonical file name for a batch written at the given
// millisecond timestamp.
func FileName(typ DataType, writtenAtMillis int64, ext string) string {
	return fmt.Sprintf("%s-%d%s", typ, writtenAtMillis, ext)
}

// MigrationEpoch extracts the migration epoch from any path containing a
// migration=<int> segment. A nil result means "unknown", which is distinct
// from epoch zero.
func MigrationEpoch(p string) *int {
	m := migrationRe.FindStringSubmatch(Normalize(p))
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// SnapshotID extracts the snapshot_id=<token> segment, if present.
func SnapshotID(p string) string {
	m := snapshotRe.FindStringSubmatch(Normalize(p))
	if m == nil {
		return ""
	}
	return m[1]
}

// PartitionDate extracts the calendar day encoded in the year=/month=/day=
// segments. The second return is false when the path is not day-partitioned.
func PartitionDate(p string) (time.Time, bool) {
	m := dateRe.FindStringSubmatch(Normalize(p))
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// WriteTimestamp returns the recency ordering key for a file: the
// millisecond timestamp embedded in its name, falling back to filesystem
// modification time when the name carries none.
func WriteTimestamp(p string, info fs.FileInfo) time.Time {
	if m := millisRe.FindStringSubmatch(path.Base(Normalize(p))); m != nil {
		if ms, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	if info != nil {
		return info.ModTime().UTC()
	}
	return time.Time{}
}

// TypeOfFile infers the data type from a file's base name prefix.
func TypeOfFile(p string) (DataType, bool) {
	name := path.Base(Normalize(p))
	switch {
	case strings.HasPrefix(name, string(DataTypeEvents)+"-"):
		return DataTypeEvents, true
	case strings.HasPrefix(name, string(DataTypeUpdates)+"-"):
		return DataTypeUpdates, true
	}
	return "", false
}

// IsColumnar and IsBinary classify a file by extension.
func IsColumnar(p string) bool { return strings.HasSuffix(p, ColumnarExt) }

func IsBinary(p string) bool { return strings.HasSuffix(p, BinaryExt) }
