// Package versions holds build metadata and version ordering helpers.
package versions

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Build metadata, overridden at link time via -ldflags.
var (
	// Version is the release version of the binary.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build metadata of the running binary.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// IsNewer reports whether a is strictly greater than b. Both are compared
// as semantic versions when possible, falling back to lexicographic order
// for values like bare data-format numbers that predate semver tagging.
func IsNewer(a, b string) bool {
	av, errA := semver.NewVersion(a)
	bv, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return av.GreaterThan(bv)
}
