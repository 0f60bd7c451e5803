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
	"fmt"
	"os"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/spf13/cobra"

	"github.com/cantonwatch/scanarchive/config"
	"github.com/cantonwatch/scanarchive/internal/discovery"
	"github.com/cantonwatch/scanarchive/internal/engine"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scanarchive",
	Short: "Query a partitioned ledger archive",
	Long:  `Stream events and updates out of a partitioned on-disk ledger archive, in columnar or legacy binary form.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig is shared by every subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// openEngine opens the embedded query engine per the loaded config.
func openEngine(cfg *config.Config, opts ...engine.Option) (*engine.DB, error) {
	if cfg.DuckDB.MemoryLimitMB > 0 {
		opts = append(opts, engine.WithMemoryLimitMB(cfg.DuckDB.MemoryLimitMB))
	}
	if cfg.DuckDB.Threads > 0 {
		opts = append(opts, engine.WithThreads(cfg.DuckDB.Threads))
	}
	if cfg.DuckDB.PoolSize > 0 {
		opts = append(opts, engine.WithPoolSize(cfg.DuckDB.PoolSize))
	}
	return engine.Open(cfg.DuckDB.Path, opts...)
}

// newDetector builds the cached format detector per the loaded config.
func newDetector(cfg *config.Config) *discovery.Detector {
	ttl := time.Duration(cfg.Scan.DetectTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	return discovery.NewDetector(ttl)
}
