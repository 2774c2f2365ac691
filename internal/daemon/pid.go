// Package daemon hosts a running supervisor's control surface: the PID
// file, the control socket and control signals.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/tessro/tinymon/internal/paths"
)

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return paths.PIDPath()
}

func pidPathOrDefault(path string) string {
	if path == "" {
		return DefaultPIDPath()
	}
	return path
}

// WritePID records the current process in the PID file, creating its
// directory. A PID file owned by another live process is left alone and
// ErrAlreadyRunning is returned.
//
// The file is written beside its final name and renamed into place, so a
// reader never sees a half-written pid.
func WritePID(path string) error {
	path = pidPathOrDefault(path)

	self := os.Getpid()
	if running, pid := IsRunning(path); running && pid != self {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	tmp := fmt.Sprintf("%s.%d.tmp", path, self)
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(self)+"\n"), 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPID returns the pid stored in the PID file. A missing file yields an
// error satisfying os.IsNotExist.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(pidPathOrDefault(path))
	if os.IsNotExist(err) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("parse pid: invalid pid %d", pid)
	}
	return pid, nil
}

// RemovePID deletes the PID file unless it names some other process, as it
// does after a second supervisor has taken over. A missing file is not an
// error.
func RemovePID(path string) error {
	path = pidPathOrDefault(path)

	if pid, err := ReadPID(path); err == nil && pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// IsProcessRunning reports whether pid names a live process.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 only checks for existence. EPERM means it exists but
	// belongs to another user.
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// IsRunning reads the PID file and reports whether its process is alive,
// returning the pid when it is.
func IsRunning(pidPath string) (bool, int) {
	pid, err := ReadPID(pidPath)
	if err != nil || !IsProcessRunning(pid) {
		return false, 0
	}
	return true, pid
}

// CleanStalePID removes a PID file whose process is gone, including one
// that cannot be parsed. It reports whether a file was removed.
func CleanStalePID(pidPath string) bool {
	pidPath = pidPathOrDefault(pidPath)
	if _, err := os.Stat(pidPath); err != nil {
		return false
	}
	if running, _ := IsRunning(pidPath); running {
		return false
	}
	_ = os.Remove(pidPath)
	return true
}
