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

// Package stream is the single entry point callers use to read the
// archive. It picks an encoding, pushes equality filters down to the
// columnar engine or applies them in memory on the legacy path, paginates,
// and degrades to partial or empty results instead of failing when any
// data source is missing or damaged.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/cantonwatch/scanarchive/internal/discovery"
	"github.com/cantonwatch/scanarchive/internal/engine"
	"github.com/cantonwatch/scanarchive/internal/ledger"
	"github.com/cantonwatch/scanarchive/internal/partition"
	"github.com/cantonwatch/scanarchive/internal/wire"
)

const (
	// DefaultLimit is applied when the caller asks for no particular page
	// size.
	DefaultLimit = 100

	// earlyStopMargin is the extra headroom, in multiples of limit,
	// accumulated past offset+limit before a bounded scan stops early.
	earlyStopMargin = 1
)

// Options control one Stream call.
type Options struct {
	Limit  int
	Offset int

	// Equality filters. These are honored on both encodings so Total
	// means the same thing regardless of which path served the request.
	Epoch      *int64
	TemplateID string
	Kind       string // event kind (created/archived/exercised) or update kind

	// Predicate is an arbitrary in-memory filter, legacy-binary path
	// only. It runs before accumulation, so Total counts post-predicate
	// records, mirroring what a pushed-down WHERE clause would report.
	Predicate func(ledger.Record) bool

	SortBy         string // effective_at (default), recorded_at, record_time
	PreferColumnar *bool  // nil means true
	FullScan       bool
	MaxDaysWindow  int
	MaxFilesToScan int
}

// Result is the unified envelope both encodings produce.
type Result struct {
	Records      []ledger.Record  `json:"records"`
	Total        int              `json:"total"`
	HasMore      bool             `json:"has_more"`
	Source       discovery.Format `json:"source"`
	FilesScanned int              `json:"files_scanned,omitempty"`
	TotalFiles   int              `json:"total_files,omitempty"`
}

// Streamer orchestrates format preference, fallback, and pagination. The
// engine handle and detector are injected; Streamer holds no global state.
type Streamer struct {
	qe       engine.QueryEngine
	detector *discovery.Detector
}

func New(qe engine.QueryEngine, detector *discovery.Detector) *Streamer {
	return &Streamer{qe: qe, detector: detector}
}

// Stream reads one page of records from the archive under dir.
func (s *Streamer) Stream(ctx context.Context, dir string, typ partition.DataType, opts Options) (*Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	format := s.detect(dir, typ)
	if format == discovery.FormatNone {
		return &Result{Records: []ledger.Record{}, Source: discovery.FormatNone}, nil
	}

	prefer := opts.PreferColumnar == nil || *opts.PreferColumnar
	if format == discovery.FormatColumnar && prefer {
		res, err := s.streamColumnar(ctx, dir, typ, opts)
		if err == nil {
			return res, nil
		}
		// Query-path fallback: a columnar failure is absorbed, not
		// reported. The binary path gets its chance below.
		slog.Warn("columnar query failed, falling back to legacy binary",
			slog.String("dir", dir),
			slog.String("type", string(typ)),
			slog.Any("error", err),
		)
	}

	return s.streamBinary(dir, typ, opts), nil
}

func (s *Streamer) detect(dir string, typ partition.DataType) discovery.Format {
	if s.detector != nil {
		return s.detector.Detect(dir, typ)
	}
	return discovery.DetectFormat(dir, typ)
}

// ---------- columnar path ----------

func (s *Streamer) streamColumnar(ctx context.Context, dir string, typ partition.DataType, opts Options) (*Result, error) {
	glob := partition.Glob(dir, typ, partition.ColumnarExt, nil)
	source := fmt.Sprintf("read_parquet('%s', union_by_name=true)", engine.EscapeString(glob))
	where := buildWhere(typ, opts)

	countRow, err := s.qe.QueryOne(ctx, fmt.Sprintf("SELECT COUNT(*) AS n FROM %s%s", source, where))
	if err != nil {
		return nil, fmt.Errorf("count query: %w", err)
	}
	total := 0
	if countRow != nil {
		if n, ok := ledger.Int64FromAny(countRow["n"]); ok {
			total = int(n)
		}
	}

	dataSQL := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s DESC NULLS LAST LIMIT %d OFFSET %d",
		source, where, sortColumn(typ, opts.SortBy), opts.Limit, opts.Offset)
	rows, err := s.qe.Query(ctx, dataSQL)
	if err != nil {
		return nil, fmt.Errorf("data query: %w", err)
	}

	records := make([]ledger.Record, 0, len(rows))
	for _, row := range rows {
		if typ == partition.DataTypeEvents {
			records = append(records, ledger.Record{Event: ledger.EventFromRow(row, "")})
		} else {
			records = append(records, ledger.Record{Update: ledger.UpdateFromRow(row, "")})
		}
	}

	return &Result{
		Records: records,
		Total:   total,
		HasMore: opts.Offset+opts.Limit < total,
		Source:  discovery.FormatColumnar,
	}, nil
}

// buildWhere assembles the pushed-down WHERE clause. Only a fixed set of
// equality filters is expressible; free-form SQL never reaches here.
func buildWhere(typ partition.DataType, opts Options) string {
	var conds []string
	if opts.Epoch != nil {
		conds = append(conds, fmt.Sprintf("migration_id = %d", *opts.Epoch))
	}
	if opts.TemplateID != "" && typ == partition.DataTypeEvents {
		conds = append(conds, fmt.Sprintf("template_id = '%s'", engine.EscapeString(opts.TemplateID)))
	}
	if opts.Kind != "" {
		col := "event_type"
		if typ == partition.DataTypeUpdates {
			col = "update_type"
		}
		conds = append(conds, fmt.Sprintf("%s = '%s'", col, engine.EscapeString(opts.Kind)))
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

var sortColumns = map[string]bool{
	"effective_at": true,
	"recorded_at":  true,
	"record_time":  true,
}

func sortColumn(typ partition.DataType, requested string) string {
	if sortColumns[requested] {
		return requested
	}
	if typ == partition.DataTypeUpdates {
		return "record_time"
	}
	return "effective_at"
}

// ---------- legacy binary path ----------

func (s *Streamer) streamBinary(dir string, typ partition.DataType, opts Options) *Result {
	var files []discovery.File
	if opts.FullScan {
		files = discovery.FullScan(dir, typ, partition.BinaryExt)
	} else {
		files = discovery.BoundedScan(dir, typ, discovery.BoundedOptions{
			Window:   opts.MaxDaysWindow,
			MaxFiles: opts.MaxFilesToScan,
		})
	}

	if len(files) == 0 {
		return &Result{Records: []ledger.Record{}, Source: discovery.FormatNone}
	}

	needed := opts.Offset + opts.Limit*(1+earlyStopMargin)

	var acc []ledger.Record
	var fileErrs *multierror.Error
	scanned := 0
	for _, f := range files {
		recs, err := decodeFile(f, opts)
		scanned++
		if err != nil {
			// A single corrupt file must not abort the stream.
			fileErrs = multierror.Append(fileErrs, fmt.Errorf("%s: %w", f.Path, err))
			continue
		}
		acc = append(acc, recs...)

		// Early stop once a bounded scan has enough headroom; a full
		// scan always processes every discovered file.
		if !opts.FullScan && len(acc) >= needed {
			break
		}
	}

	if fileErrs != nil {
		slog.Warn("skipped unreadable legacy files during stream",
			slog.String("dir", dir),
			slog.String("type", string(typ)),
			slog.Int("failedFiles", fileErrs.Len()),
			slog.Any("errors", fileErrs.ErrorOrNil()),
		)
	}

	sortRecords(acc, sortColumn(typ, opts.SortBy))

	total := len(acc)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	page := make([]ledger.Record, end-start)
	copy(page, acc[start:end])

	return &Result{
		Records:      page,
		Total:        total,
		HasMore:      opts.Offset+opts.Limit < total,
		Source:       discovery.FormatBinary,
		FilesScanned: scanned,
		TotalFiles:   len(files),
	}
}

func decodeFile(f discovery.File, opts Options) ([]ledger.Record, error) {
	r, err := wire.NewReader(f.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var out []ledger.Record
	if f.Type == partition.DataTypeEvents {
		for {
			ev, done, err := r.NextEvent()
			if err != nil {
				return nil, err
			}
			if done {
				break
			}
			rec := ledger.Record{Event: ledger.EventFromWire(ev, f.Path)}
			if keep(rec, opts) {
				out = append(out, rec)
			}
		}
	} else {
		for {
			up, done, err := r.NextUpdate()
			if err != nil {
				return nil, err
			}
			if done {
				break
			}
			rec := ledger.Record{Update: ledger.UpdateFromWire(up, f.Path)}
			if keep(rec, opts) {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// keep applies the equality filters and the optional predicate in memory,
// mirroring the columnar WHERE pushdown.
func keep(rec ledger.Record, opts Options) bool {
	if opts.Epoch != nil {
		var mig *int64
		if rec.Event != nil {
			mig = rec.Event.Migration
		} else if rec.Update != nil {
			mig = rec.Update.Migration
		}
		if mig == nil || *mig != *opts.Epoch {
			return false
		}
	}
	if opts.TemplateID != "" && rec.Event != nil && rec.Event.TemplateID != opts.TemplateID {
		return false
	}
	if opts.Kind != "" {
		kind := ""
		if rec.Event != nil {
			kind = rec.Event.EventType
		} else if rec.Update != nil {
			kind = rec.Update.UpdateType
		}
		if kind != opts.Kind {
			return false
		}
	}
	if opts.Predicate != nil && !opts.Predicate(rec) {
		return false
	}
	return true
}

// sortRecords orders descending by the sort field. Missing or invalid
// dates carry the zero time, which lands them last. Ties break on record
// id descending so ordering is total and pagination within one call is
// stable.
func sortRecords(recs []ledger.Record, field string) {
	sort.SliceStable(recs, func(i, j int) bool {
		ti, tj := recs[i].SortTime(field), recs[j].SortTime(field)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return recs[i].ID() > recs[j].ID()
	})
}
