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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cantonwatch/scanarchive/internal/partition"
)

// File is an ephemeral descriptor for one archive file. Descriptors are
// recomputed on every discovery call; nothing here is persisted.
type File struct {
	Path          string
	Type          partition.DataType
	Format        Format
	Migration     *int
	PartitionDate time.Time // zero when the path is not day-partitioned
	WrittenAt     time.Time // embedded write timestamp, else fs mtime
}

func describe(p string, typ partition.DataType) File {
	format := FormatBinary
	if partition.IsColumnar(p) {
		format = FormatColumnar
	}
	date, _ := partition.PartitionDate(p)
	return File{
		Path:          partition.Normalize(p),
		Type:          typ,
		Format:        format,
		Migration:     partition.MigrationEpoch(p),
		PartitionDate: date,
		WrittenAt:     partition.WriteTimestamp(p, statIgnoringError(p)),
	}
}

// BoundedOptions tunes the recent-window scan.
type BoundedOptions struct {
	Ext      string // file extension to match; defaults to the binary ext
	Window   int    // calendar days to look back, including today
	MaxFiles int    // cap on files returned
	Now      time.Time
}

const (
	DefaultWindowDays = 3
	DefaultMaxFiles   = 200
)

// BoundedScan enumerates migration subdirectories, probes each of the most
// recent Window calendar days for matching files, and rank-sorts the union
// by partition date descending then write recency descending, capped at
// MaxFiles. Per-directory read failures mean "no files here".
func BoundedScan(base string, typ partition.DataType, opts BoundedOptions) []File {
	if opts.Ext == "" {
		opts.Ext = partition.BinaryExt
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindowDays
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var files []File
	for _, migration := range migrationDirs(filepath.Join(base, string(typ))) {
		for day := 0; day < opts.Window; day++ {
			dir := partition.DayDir(base, typ, migration, now.AddDate(0, 0, -day))
			entries, err := os.ReadDir(filepath.FromSlash(dir))
			if err != nil {
				continue // missing or unreadable partition, not an error
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				name := e.Name()
				if strings.HasPrefix(name, string(typ)+"-") && strings.HasSuffix(name, opts.Ext) {
					files = append(files, describe(filepath.Join(filepath.FromSlash(dir), name), typ))
				}
			}
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].PartitionDate.Equal(files[j].PartitionDate) {
			return files[i].PartitionDate.After(files[j].PartitionDate)
		}
		return files[i].WrittenAt.After(files[j].WrittenAt)
	})

	if len(files) > opts.MaxFiles {
		files = files[:opts.MaxFiles]
	}
	return files
}

// migrationDirs lists the migration epochs that have a partition directory
// under root, in directory order.
func migrationDirs(root string) []int {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if epoch := partition.MigrationEpoch(e.Name()); epoch != nil {
			out = append(out, *epoch)
		}
	}
	return out
}

// progressInterval is how often a full scan reports throughput.
const progressInterval = 5 * time.Second

// FullScan walks the entire subtree for the given type, collecting every
// matching file in insertion order. The walk uses an explicit worklist so
// pathologically deep partition trees cannot exhaust the stack, and it
// emits periodic throughput progress so long scans remain observable.
// Unreadable directories are skipped.
func FullScan(base string, typ partition.DataType, ext string) []File {
	if ext == "" {
		ext = partition.BinaryExt
	}

	scanID := ulid.Make().String()
	start := time.Now()
	lastReport := start
	processed := 0

	var files []File
	worklist := []string{filepath.Join(base, string(typ))}
	for len(worklist) > 0 {
		dir := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if e.IsDir() {
				worklist = append(worklist, p)
				continue
			}
			processed++
			name := e.Name()
			if strings.HasPrefix(name, string(typ)+"-") && strings.HasSuffix(name, ext) {
				files = append(files, describe(p, typ))
			}

			if now := time.Now(); now.Sub(lastReport) >= progressInterval {
				elapsed := now.Sub(start).Seconds()
				rate := float64(processed) / elapsed
				slog.Info("full scan progress",
					slog.String("scanId", scanID),
					slog.String("type", string(typ)),
					slog.Int("filesProcessed", processed),
					slog.Int("matched", len(files)),
					slog.String("rate", formatRate(rate)),
					slog.Duration("elapsed", now.Sub(start)),
				)
				lastReport = now
			}
		}
	}

	if processed > 0 {
		slog.Debug("full scan complete",
			slog.String("scanId", scanID),
			slog.String("type", string(typ)),
			slog.Int("filesProcessed", processed),
			slog.Int("matched", len(files)),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	return files
}

func formatRate(perSec float64) string {
	return strconv.FormatFloat(perSec, 'f', 1, 64) + " files/s"
}
