// Package versions exposes build information shared by the cc-fetcher binaries.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	unknownStr = "unknown"

	// DefaultEnvelopeVersion is written into envelopes when the binary was
	// built without a release version.
	DefaultEnvelopeVersion = "0.1.0"
)

// Build information, set with -ldflags "-X".
var (
	// Version is the release version of the binaries
	Version = "dev"
	// Commit is the git commit the binaries were built from
	//nolint:goconst // placeholder
	Commit = unknownStr
	// BuildDate is the date the binaries were built
	//nolint:goconst // placeholder
	BuildDate = unknownStr
)

// VersionInfo represents the version information
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version information
func GetVersionInfo() VersionInfo {
	return versionInfoFrom(Version, Commit, BuildDate, readBuildSettings())
}

// EnvelopeVersion is the version recorded in envelope metadata. Development
// builds report DefaultEnvelopeVersion so that downstream semver checks keep working.
func EnvelopeVersion() string {
	v := strings.TrimPrefix(Version, "v")
	if v == "" || strings.HasPrefix(v, "dev") {
		return DefaultEnvelopeVersion
	}
	return v
}

// UserAgent is the User-Agent header sent by the fetch transport.
func UserAgent() string {
	return "cc-fetcher/" + EnvelopeVersion()
}

func readBuildSettings() map[string]string {
	settings := map[string]string{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	return settings
}

func versionInfoFrom(version, commit, buildDate string, settings map[string]string) VersionInfo {
	if strings.HasPrefix(version, "dev") {
		if rev, ok := settings["vcs.revision"]; ok && commit == unknownStr {
			commit = rev
		}
		if ts, ok := settings["vcs.time"]; ok && buildDate == unknownStr {
			buildDate = ts
		}
	}

	if buildDate != unknownStr {
		if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
			buildDate = t.Format("2006-01-02 15:04:05 MST")
		}
	}

	if version == "dev" {
		version = fmt.Sprintf("build-%.*s", 8, commit)
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
