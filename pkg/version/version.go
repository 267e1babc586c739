// Package version holds build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build metadata. Overridden at link time, e.g.
// -X github.com/goplus/detect-changes/pkg/version.Version=v1.2.0.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the version line printed by the version command.
func String() string {
	return fmt.Sprintf("detect-changes %s (commit: %s, built: %s)", Version, Commit, Date)
}

// InitBinaryVersion fills Version from the module build info when the binary
// was built without link-time metadata, as with go install.
func InitBinaryVersion() {
	if Version != "dev" {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return
	}

	Version = info.Main.Version
}
