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
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/cantonwatch/scanarchive/internal/discovery"
	"github.com/cantonwatch/scanarchive/internal/engine"
	"github.com/cantonwatch/scanarchive/internal/partition"
)

// doctorReport is the machine-readable health summary.
type doctorReport struct {
	Archive struct {
		BaseDir string                      `json:"base_dir"`
		Formats map[string]discovery.Format `json:"formats"`
	} `json:"archive"`
	Engine      *engine.Diagnostics `json:"engine,omitempty"`
	EngineError string              `json:"engine_error,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report archive and query engine health",
	RunE: func(c *cobra.Command, _ []string) error {
		defer setupLogging("doctor")()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := handleSignals(context.Background())
		defer cancel()

		var report doctorReport
		report.Archive.BaseDir = cfg.Archive.BaseDir
		report.Archive.Formats = map[string]discovery.Format{}
		for _, typ := range []partition.DataType{partition.DataTypeEvents, partition.DataTypeUpdates} {
			report.Archive.Formats[string(typ)] = discovery.DetectFormat(cfg.Archive.BaseDir, typ)
		}

		if db, err := openEngine(cfg); err != nil {
			report.EngineError = err.Error()
		} else {
			defer func() { _ = db.Close() }()
			if err := db.EnsureReady(ctx); err != nil {
				report.EngineError = err.Error()
			}
			diag := db.Diagnostics()
			report.Engine = &diag
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
