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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/cantonwatch/scanarchive/config"
	"github.com/cantonwatch/scanarchive/internal/engine"
	"github.com/cantonwatch/scanarchive/internal/partition"
	"github.com/cantonwatch/scanarchive/internal/stream"
)

var streamFlags struct {
	dataType   string
	limit      int
	offset     int
	epoch      int64
	templateID string
	kind       string
	sortBy     string
	fullScan   bool
	noColumnar bool
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream one page of records from the archive",
	RunE: func(c *cobra.Command, _ []string) error {
		defer setupLogging("stream")()

		typ, err := parseDataType(streamFlags.dataType)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := handleSignals(context.Background())
		defer cancel()

		qe, closeEngine := engineOrUnavailable(cfg)
		defer closeEngine()

		opts := stream.Options{
			Limit:          streamFlags.limit,
			Offset:         streamFlags.offset,
			TemplateID:     streamFlags.templateID,
			Kind:           streamFlags.kind,
			SortBy:         streamFlags.sortBy,
			FullScan:       streamFlags.fullScan,
			MaxDaysWindow:  cfg.Scan.WindowDays,
			MaxFilesToScan: cfg.Scan.MaxFiles,
		}
		if streamFlags.epoch >= 0 {
			opts.Epoch = &streamFlags.epoch
		}
		if streamFlags.noColumnar {
			prefer := false
			opts.PreferColumnar = &prefer
		}

		det := newDetector(cfg)
		defer det.Close()

		s := stream.New(qe, det)
		res, err := s.Stream(ctx, cfg.Archive.BaseDir, typ, opts)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	f := streamCmd.Flags()
	f.StringVar(&streamFlags.dataType, "type", "events", "data type: events or updates")
	f.IntVar(&streamFlags.limit, "limit", stream.DefaultLimit, "page size")
	f.IntVar(&streamFlags.offset, "offset", 0, "page offset")
	f.Int64Var(&streamFlags.epoch, "epoch", -1, "migration epoch filter (-1 = all)")
	f.StringVar(&streamFlags.templateID, "template-id", "", "template id filter (events only)")
	f.StringVar(&streamFlags.kind, "kind", "", "record kind filter")
	f.StringVar(&streamFlags.sortBy, "sort", "", "sort field: effective_at, recorded_at, record_time")
	f.BoolVar(&streamFlags.fullScan, "full-scan", false, "walk every partition instead of the recent window")
	f.BoolVar(&streamFlags.noColumnar, "no-columnar", false, "force the legacy binary path")
	rootCmd.AddCommand(streamCmd)
}

func parseDataType(s string) (partition.DataType, error) {
	switch s {
	case string(partition.DataTypeEvents):
		return partition.DataTypeEvents, nil
	case string(partition.DataTypeUpdates):
		return partition.DataTypeUpdates, nil
	}
	return "", fmt.Errorf("unknown data type %q (want events or updates)", s)
}

// engineOrUnavailable opens the query engine, degrading to a stub whose
// queries always fail when the database cannot be opened. The stream layer
// then serves from legacy binary files instead.
func engineOrUnavailable(cfg *config.Config) (engine.QueryEngine, func()) {
	db, err := openEngine(cfg)
	if err != nil {
		slog.Warn("query engine unavailable, columnar path disabled", slog.Any("error", err))
		return unavailableEngine{err: err}, func() {}
	}
	return db, func() { _ = db.Close() }
}

type unavailableEngine struct{ err error }

func (u unavailableEngine) Query(context.Context, string) ([]map[string]any, error) {
	return nil, u.err
}

func (u unavailableEngine) QueryOne(context.Context, string) (map[string]any, error) {
	return nil, u.err
}

func (u unavailableEngine) Exec(context.Context, string) error { return u.err }
