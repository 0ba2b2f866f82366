// Package pidfile keeps a single watcher or dashboard instance per user.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by New when a live process owns the file.
var ErrAlreadyRunning = errors.New("another instance is already running")

// PIDFile is a claimed PID file.
type PIDFile struct {
	path string
	pid  int
}

// New claims path for the current process. A file left by a dead process is
// replaced; a file owned by a live one yields ErrAlreadyRunning.
func New(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if existing, ok := readPID(path); ok && isProcessRunning(existing) {
			return nil, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, existing)
		}
		// stale or unparsable
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}

	pid := os.Getpid()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w (PID file %s was just created)", ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	return &PIDFile{path: path, pid: pid}, nil
}

// Path returns the file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Remove deletes the file if it still holds our PID.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	if pid, ok := readPID(p.path); ok && pid == p.pid {
		return os.Remove(p.path)
	}
	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true
	case errors.Is(err, syscall.EPERM):
		// exists but owned by someone else
		return true
	default:
		return false
	}
}

// PathFor returns ~/.cache/lecturekit/<name>.pid.
func PathFor(name string) string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "lecturekit", name+".pid")
}
