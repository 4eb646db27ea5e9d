// Package version reports the arenacal build.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build-time variables set by ldflags, e.g.
// -X github.com/MeKo-Tech/arenacal/internal/version.Version=v0.3.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version, commit and build date. Values not set by ldflags fall
// back to the module version and VCS stamp recorded in the binary.
func Info() (string, string, string) {
	ver, commit, date := Version, GitCommit, BuildDate
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ver, commit, date
	}
	if ver == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		ver = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && commit == "unknown":
			commit = s.Value
		case s.Key == "vcs.time" && date == "unknown":
			date = s.Value
		}
	}
	return ver, commit, date
}

// String formats Info on one line.
func String() string {
	ver, commit, date := Info()
	return fmt.Sprintf("%s (commit: %s, built: %s)", ver, commit, date)
}
