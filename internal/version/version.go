// Package version carries build metadata stamped in via -ldflags.
package version

var (
	// Version is the release tag, or "dev" for local builds
	Version = "dev"
	// GitSHA is the git commit the binary was built from
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the version for logs and the console.
func String() string {
	return Version + " (" + GitSHA + ")"
}
