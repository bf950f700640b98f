// Package version exposes the build identity stamped into the reelcut
// binary. Release tooling overrides the variables below through
// -ldflags "-X github.com/reelcut/reelcut/internal/version.Version=..."
// and friends; a plain `go build` produces a dev snapshot.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// ApplicationName appears in CLI output and the outbound User-Agent.
const ApplicationName = "reelcut"

// Stamped at link time. The defaults describe a local development build.
var (
	// Version is a SemVer 2.0.0 string: "1.4.0" for a tagged release,
	// "1.4.1-SNAPSHOT.9f31c2d" for a prerelease build.
	Version = "dev"

	// Commit is the full git SHA the binary was built from.
	Commit = "unknown"

	// Date is the RFC3339 build timestamp.
	Date = "unknown"
)

// GoVersion is the toolchain the binary was compiled with.
var GoVersion = runtime.Version()

// Info is the version record returned by the health endpoint and the
// version subcommand.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo assembles the full build identity.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String renders the identity line printed by `reelcut version`.
func String() string {
	info := GetInfo()
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, info.Commit[:8], info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short is the compact form used for cobra's --version flag.
func Short() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, Commit[:8])
	}
	return fmt.Sprintf("%s %s", ApplicationName, Version)
}

// JSON renders GetInfo as an indented document for `version --json`.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UserAgent identifies outbound HTTP requests made by the server.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, Version)
}

// IsSnapshot reports whether this is a dev or SNAPSHOT-prerelease build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}

// IsRelease reports whether the binary was built from a release tag.
func IsRelease() bool {
	return !IsSnapshot() && Version != "dev"
}
