// Package version holds build information stamped in with -ldflags:
//
//	-X github.com/tessro/tinymon/internal/version.Version=v0.3.0
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Current returns Version, falling back to the main module version
// recorded by `go install` when no -ldflags value was set.
func Current() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return Version
}

// String is the one-line form printed by `tinymon version`.
func String() string {
	return fmt.Sprintf("tinymon %s (commit: %s, built: %s)", Current(), Commit, Date)
}
