package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

// These variables are set at build time using -ldflags
var (
	// Version is the semantic version of the application
	Version = "dev"

	// GitCommit is the git commit hash when the binary was built
	GitCommit = "unknown"

	// BuildTime is the time when the binary was built (RFC3339 format)
	BuildTime = "unknown"
)

// GetBuildInfo returns comprehensive build information
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   GetVersion(),
		GitCommit: GetGitCommit(),
		BuildTime: parseISOTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// GetVersion returns the application version
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				return fmt.Sprintf("dev-%s", setting.Value[:7])
			}
		}
	}

	return "dev"
}

// GetGitCommit returns the git commit hash
func GetGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
	}

	return "unknown"
}

// CacheVersion is the tool version that feeds build fingerprints. Dev builds
// include the commit so two dev binaries never share transform caches.
func CacheVersion() string {
	v := GetVersion()
	if IsRelease() {
		return v
	}
	if commit := GetGitCommit(); commit != "unknown" && !strings.Contains(v, commit[:min(7, len(commit))]) {
		return v + "+" + commit
	}
	return v
}

// GetDetailedVersion returns a detailed version string with all build info
func GetDetailedVersion() string {
	info := GetBuildInfo()

	parts := []string{fmt.Sprintf("Version: %s", info.Version)}
	if info.GitCommit != "unknown" {
		parts = append(parts, fmt.Sprintf("Commit: %s", info.GitCommit))
	}
	if !info.BuildTime.IsZero() {
		parts = append(parts, fmt.Sprintf("Built: %s", info.BuildTime.Format(time.RFC3339)))
	}
	parts = append(parts, fmt.Sprintf("Go: %s", info.GoVersion))
	parts = append(parts, fmt.Sprintf("Platform: %s", info.Platform))

	return strings.Join(parts, "\n")
}

// IsRelease returns true if this is a release build (not dev)
func IsRelease() bool {
	v := GetVersion()
	return v != "dev" && !strings.HasPrefix(v, "dev-")
}

// parseISOTime parses an ISO 8601 time string, returns zero time on error
func parseISOTime(timeStr string) time.Time {
	if timeStr == "" || timeStr == "unknown" {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, timeStr); err == nil {
			return t
		}
	}

	return time.Time{}
}
