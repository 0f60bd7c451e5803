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
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// setupLogging configures the process-wide logger. Human-readable text goes
// to stderr so stdout stays parseable command output; when
// SCANARCHIVE_LOG_FILE is set, a JSON copy of every record is appended there
// as well. Returns a close function for the log file.
func setupLogging(servicename string) func() {
	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("SCANARCHIVE_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, opts)}
	closer := func() {}

	if path := os.Getenv("SCANARCHIVE_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			slog.Warn("cannot open log file, logging to stderr only",
				slog.String("path", path), slog.Any("error", err))
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
			closer = func() { _ = f.Close() }
		}
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(handlers...)).With(
		slog.String("service", servicename),
	))
	return closer
}
