package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the configuration file layout written by this build.
const SchemaVersion = "1.0.0"

// supportedSchemas accepts any file written by a 1.x build.
const supportedSchemas = "^1.0.0"

// CheckSchemaVersion reports whether a config file with the given schema_version can be
// read. An empty version is treated as the current one.
func CheckSchemaVersion(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("schema_version %q is not a semantic version: %w", version, err)
	}
	constraint, err := semver.NewConstraint(supportedSchemas)
	if err != nil {
		return fmt.Errorf("parsing schema constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("schema_version %s is not supported (want %s)", v, supportedSchemas)
	}
	return nil
}
