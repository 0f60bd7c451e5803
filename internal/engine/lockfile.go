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

package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// The lockfile sits next to the database file and holds the owning pid as
// a decimal string followed by a newline. The format is load-bearing:
// other tooling reads it, so it must stay bit-for-bit stable.
type lockfile struct {
	path string
}

func lockfilePath(dbPath string) string {
	return dbPath + ".pid"
}

// acquireLockfile enforces one engine instance per database file. An
// existing lockfile is only honored when its pid is actually alive; a
// stale one is removed opportunistically and ownership taken over.
func acquireLockfile(dbPath string) (*lockfile, error) {
	path := lockfilePath(dbPath)

	if content, err := os.ReadFile(path); err == nil {
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(content)))
		switch {
		case parseErr != nil:
			slog.Warn("removing unparseable engine lockfile", slog.String("path", path))
			_ = os.Remove(path)
		case pid == os.Getpid():
			// Already ours.
			return &lockfile{path: path}, nil
		case pidAlive(pid):
			return nil, fmt.Errorf("engine: database %s is locked by running process %d", dbPath, pid)
		default:
			slog.Info("removing stale engine lockfile",
				slog.String("path", path), slog.Int("pid", pid))
			_ = os.Remove(path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("engine: create lockfile dir: %w", err)
	}

	// Write-then-rename so a concurrent reader never sees a partial pid.
	tmp := path + "." + uuid.NewString() + ".tmp"
	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("engine: write lockfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("engine: place lockfile: %w", err)
	}
	return &lockfile{path: path}, nil
}

// release removes the lockfile unconditionally; shutdown must never leave
// a lock behind.
func (l *lockfile) release() {
	_ = os.Remove(l.path)
}

// pidAlive checks liveness, not mere existence: on Unix FindProcess always
// succeeds, so signal 0 is the actual probe. EPERM means the process
// exists but belongs to someone else, which still counts as alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.EPERM {
		return true
	}
	return false
}
