// Package version reports the build version of regscan.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Set at build time with -ldflags "-X github.com/rshade/regscan/pkg/version.version=...".
//
//nolint:gochecknoglobals // Build-time variables.
var (
	version   = "0.0.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// GetVersion returns the build version without a leading "v".
func GetVersion() string {
	return strings.TrimPrefix(version, "v")
}

// GetGitCommit returns the commit the binary was built from.
func GetGitCommit() string {
	return gitCommit
}

// GetBuildDate returns the build timestamp.
func GetBuildDate() string {
	return buildDate
}

// Parse returns the build version as a semantic version.
func Parse() (*semver.Version, error) {
	v, err := semver.NewVersion(GetVersion())
	if err != nil {
		return nil, fmt.Errorf("parsing build version %q: %w", version, err)
	}
	return v, nil
}

// IsDevelopment reports whether this is an unreleased build.
func IsDevelopment() bool {
	v, err := Parse()
	if err != nil {
		return true
	}
	return v.Prerelease() != ""
}

// Satisfies reports whether the build version meets constraint, e.g. ">= 1.2".
func Satisfies(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("parsing constraint %q: %w", constraint, err)
	}
	v, err := Parse()
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("regscan %s (commit %s, built %s, %s %s/%s)",
		GetVersion(), gitCommit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
