// Package version exposes build metadata for the goldpin binary.
// Version, BuildTime and GitCommit are stamped through -ldflags at
// release time; builds straight from `go build` fall back to the
// module build info embedded by the toolchain.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Commit returns the stamped git commit, falling back to the VCS
// revision recorded in the binary's build info.
func Commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return GitCommit
}

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }
