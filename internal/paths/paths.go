// Package paths provides a single source of truth for tinymon file paths.
// All path helpers honor environment variable overrides for isolated testing.
//
// Path resolution precedence:
//  1. Specific env vars (TINYMON_SOCKET_PATH, TINYMON_PID_PATH) take highest priority
//  2. TINYMON_DIR env var sets the base directory (derives socket/pid/log/config)
//  3. Default behavior (~/.tinymon, ~/.config/tinymon) when no env vars are set
package paths

import (
	"os"
	"path/filepath"
)

// Environment variable names for path overrides.
const (
	// EnvDir is the base directory override (e.g., /tmp/tinymon-e2e).
	// When set, pid, log, and config paths derive from this directory.
	EnvDir = "TINYMON_DIR"

	// EnvSocketPath overrides the control socket path directly.
	EnvSocketPath = "TINYMON_SOCKET_PATH"

	// EnvPIDPath overrides the PID file path directly.
	EnvPIDPath = "TINYMON_PID_PATH"
)

// BaseDir returns the tinymon base directory (~/.tinymon by default).
// Honors TINYMON_DIR environment variable.
func BaseDir() (string, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tinymon"), nil
}

// ConfigDir returns the tinymon config directory (~/.config/tinymon by default).
// When TINYMON_DIR is set, returns TINYMON_DIR/config instead.
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		return filepath.Join(dir, "config"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tinymon"), nil
}

// ConfigPath returns the path to the default supervisor config file
// (~/.config/tinymon/tinymon.toml by default, or TINYMON_DIR/config/tinymon.toml).
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tinymon.toml"), nil
}

// SocketPath returns the control socket path.
// Precedence: TINYMON_SOCKET_PATH > TINYMON_DIR/tinymon.sock > ~/.tinymon/tinymon.sock
func SocketPath() string {
	if path := os.Getenv(EnvSocketPath); path != "" {
		return path
	}
	base, err := BaseDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tinymon.sock")
	}
	return filepath.Join(base, "tinymon.sock")
}

// PIDPath returns the supervisor PID file path.
// Precedence: TINYMON_PID_PATH > TINYMON_DIR/tinymon.pid > ~/.tinymon/tinymon.pid
func PIDPath() string {
	if path := os.Getenv(EnvPIDPath); path != "" {
		return path
	}
	base, err := BaseDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tinymon.pid")
	}
	return filepath.Join(base, "tinymon.pid")
}

// LogPath returns the structured log file path (~/.tinymon/tinymon.log).
func LogPath() string {
	base, err := BaseDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tinymon.log")
	}
	return filepath.Join(base, "tinymon.log")
}
