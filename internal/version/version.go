package version

import "fmt"

// Build metadata, set with -ldflags "-X agilewatch/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// UserAgent identifies this build to the tariff API.
func UserAgent() string {
	return "agilewatch/" + Version
}

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("agilewatch %s (commit %s, built %s)", Version, Commit, BuildDate)
}
