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

// Package discovery locates archive files on disk: cheap format probes,
// a bounded recent-window scan for latency-sensitive callers, and a full
// recursive scan for completeness.
package discovery

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"github.com/cantonwatch/scanarchive/internal/partition"
)

// Format is the physical encoding detected for a data type under a
// directory. FormatNone is a valid, non-error outcome.
type Format string

const (
	FormatColumnar Format = "columnar"
	FormatBinary   Format = "binary"
	FormatNone     Format = "none"
)

var errFound = errors.New("found")

// DetectFormat probes for columnar and binary files of the given type.
// Both probes are early-exit tree walks that stop at the first match.
// Columnar is always preferred when both encodings exist.
func DetectFormat(dir string, typ partition.DataType) Format {
	root := filepath.Join(dir, string(typ))

	var hasColumnar, hasBinary bool
	var g errgroup.Group
	g.Go(func() error {
		hasColumnar = anyFileWithSuffix(root, string(typ)+"-", partition.ColumnarExt)
		return nil
	})
	g.Go(func() error {
		hasBinary = anyFileWithSuffix(root, string(typ)+"-", partition.BinaryExt)
		return nil
	})
	_ = g.Wait()

	switch {
	case hasColumnar:
		return FormatColumnar
	case hasBinary:
		return FormatBinary
	default:
		return FormatNone
	}
}

// anyFileWithSuffix walks root and reports whether any regular file matches
// the prefix/suffix pair. The walk aborts at the first match and treats
// unreadable directories as empty.
func anyFileWithSuffix(root, prefix, suffix string) bool {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep going
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) {
			return errFound
		}
		return nil
	})
	return errors.Is(err, errFound)
}

// Detector memoizes DetectFormat results for a short window so per-request
// probing does not hammer large directory trees.
type Detector struct {
	cache *ttlcache.Cache[string, Format]
}

// NewDetector creates a detector whose results expire after ttl.
func NewDetector(ttl time.Duration) *Detector {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, Format](ttl),
		ttlcache.WithDisableTouchOnHit[string, Format](),
	)
	go cache.Start()
	return &Detector{cache: cache}
}

func (d *Detector) Close() {
	d.cache.Stop()
}

// Detect returns the cached format for (dir, typ), probing on a miss.
func (d *Detector) Detect(dir string, typ partition.DataType) Format {
	key := partition.Normalize(dir) + "|" + string(typ)
	if item := d.cache.Get(key); item != nil {
		return item.Value()
	}
	format := DetectFormat(dir, typ)
	d.cache.Set(key, format, ttlcache.DefaultTTL)
	return format
}

// Invalidate drops every cached probe result. Invalidating an already
// empty cache is a no-op, so repeated calls observe the same state.
func (d *Detector) Invalidate() {
	d.cache.DeleteAll()
}

// statIgnoringError wraps os.Stat for callers that treat failures as
// absence.
func statIgnoringError(p string) fs.FileInfo {
	info, err := os.Stat(p)
	if err != nil {
		return nil
	}
	return info
}
