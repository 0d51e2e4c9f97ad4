// Package versions reports build metadata for the price-sync binary.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	unknownStr   = "unknown"
	devVersion   = "dev"
	shortCommit  = 8
	dateLayout   = "2006-01-02 15:04:05 MST"
	vcsRevision  = "vcs.revision"
	vcsBuildTime = "vcs.time"
)

// Set at build time with -ldflags "-X .../versions.Version=..."
var (
	Version = devVersion
	//nolint:goconst // placeholder until set by ldflags
	Commit = unknownStr
	//nolint:goconst // placeholder until set by ldflags
	BuildDate = unknownStr
)

// VersionInfo is served by GET /version and printed by the version command
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the metadata of the running binary
func GetVersionInfo() VersionInfo {
	return resolve(Version, Commit, BuildDate, vcsSettings)
}

// vcsSettings returns the revision and commit time stamped by the go toolchain
func vcsSettings() (revision, buildTime string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range info.Settings {
		switch s.Key {
		case vcsRevision:
			revision = s.Value
		case vcsBuildTime:
			buildTime = s.Value
		}
	}
	return revision, buildTime
}

// resolve fills gaps in development builds from VCS settings. A bare "dev"
// version becomes "build-<short commit>".
func resolve(version, commit, buildDate string, vcs func() (string, string)) VersionInfo {
	if strings.HasPrefix(version, devVersion) {
		revision, buildTime := vcs()
		if commit == unknownStr && revision != "" {
			commit = revision
		}
		if buildDate == unknownStr && buildTime != "" {
			buildDate = buildTime
		}
	}

	if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
		buildDate = t.Format(dateLayout)
	}

	if version == devVersion {
		version = "build-" + truncate(commit, shortCommit)
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
