// Package version exposes the daemon's build version from the embedded
// VERSION file.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the daemon version string.
func Get() string {
	return strings.TrimSpace(raw)
}
