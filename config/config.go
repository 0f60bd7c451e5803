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

// Package config aggregates configuration for the application.
package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cantonwatch/scanarchive/internal/discovery"
	"github.com/cantonwatch/scanarchive/internal/views"
)

// Config aggregates configuration for the application.
type Config struct {
	Archive ArchiveConfig `mapstructure:"archive"`
	DuckDB  DuckDBConfig  `mapstructure:"duckdb"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Views   ViewsConfig   `mapstructure:"views"`
}

// ArchiveConfig locates the on-disk archive.
type ArchiveConfig struct {
	// BaseDir is the root under which the events/ and updates/ partition
	// trees live.
	BaseDir string `mapstructure:"base_dir"`
}

// DuckDBConfig holds the embedded query engine settings.
type DuckDBConfig struct {
	Path          string `mapstructure:"path"`            // database file path
	MemoryLimitMB int64  `mapstructure:"memory_limit_mb"` // 0 = engine default
	Threads       int    `mapstructure:"threads"`         // 0 = engine default
	PoolSize      int    `mapstructure:"pool_size"`       // 0 = derived from CPU count
}

// ScanConfig tunes file discovery.
type ScanConfig struct {
	WindowDays       int `mapstructure:"window_days"`        // bounded scan lookback
	MaxFiles         int `mapstructure:"max_files"`          // bounded scan cap
	DetectTTLSeconds int `mapstructure:"detect_ttl_seconds"` // format detection cache TTL
}

// ViewsConfig tunes SQL view materialization.
type ViewsConfig struct {
	Threshold int `mapstructure:"threshold"` // file count above which views degrade
	ScanCap   int `mapstructure:"scan_cap"`  // hard stop for the counting walk
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Archive: ArchiveConfig{
			BaseDir: "./data",
		},
		DuckDB: DuckDBConfig{
			Path: "./scanarchive.duckdb",
		},
		Scan: ScanConfig{
			WindowDays:       discovery.DefaultWindowDays,
			MaxFiles:         discovery.DefaultMaxFiles,
			DetectTTLSeconds: 60,
		},
		Views: ViewsConfig{
			Threshold: views.DefaultThreshold,
			ScanCap:   views.DefaultScanCap,
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "SCANARCHIVE" and the dot character
// in keys is replaced by an underscore. For example, "archive.base_dir"
// becomes "SCANARCHIVE_ARCHIVE_BASE_DIR".
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("SCANARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
