// Package version carries build metadata stamped via -ldflags.
package version

var (
	// Version is the gateway release tag.
	Version = "v0.1.0"
	// Commit is the short git hash of the build.
	Commit = "unknown"
	// BuiltAt is the build timestamp.
	BuiltAt = "unknown"
)

// Info returns the release tag reported on health endpoints.
func Info() string {
	return Version
}

// FullInfo returns the full build stamp for startup logs.
func FullInfo() string {
	return "version=" + Version + " commit=" + Commit + " built_at=" + BuiltAt
}
