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
	"sort"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/cantonwatch/scanarchive/internal/engine"
	"github.com/cantonwatch/scanarchive/internal/views"
)

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "Manage the SQL views over the columnar archive",
}

var viewsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recreate the views against the current archive contents",
	RunE: func(c *cobra.Command, _ []string) error {
		defer setupLogging("views-refresh")()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := handleSignals(context.Background())
		defer cancel()

		db, err := openEngine(cfg, engine.WithCreateIfMissing())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := db.EnsureReady(ctx); err != nil {
			return err
		}

		m := views.NewManager(db, cfg.Archive.BaseDir, cfg.Views.Threshold, cfg.Views.ScanCap)
		m.Refresh(ctx)
		return printViews(m)
	},
}

var viewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show view state without touching the database",
	RunE: func(c *cobra.Command, _ []string) error {
		defer setupLogging("views-list")()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := handleSignals(context.Background())
		defer cancel()

		// A discarding engine lets the manager compute counts and kinds
		// without creating anything.
		m := views.NewManager(discardEngine{}, cfg.Archive.BaseDir, cfg.Views.Threshold, cfg.Views.ScanCap)
		m.Refresh(ctx)
		return printViews(m)
	},
}

func printViews(m *views.Manager) error {
	vs := m.Views()
	sort.Slice(vs, func(i, j int) bool { return vs[i].Name < vs[j].Name })

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(vs)
}

type discardEngine struct{}

func (discardEngine) Query(context.Context, string) ([]map[string]any, error) { return nil, nil }
func (discardEngine) QueryOne(context.Context, string) (map[string]any, error) {
	return nil, nil
}
func (discardEngine) Exec(context.Context, string) error { return nil }

func init() {
	viewsCmd.AddCommand(viewsRefreshCmd)
	viewsCmd.AddCommand(viewsListCmd)
	rootCmd.AddCommand(viewsCmd)
}
