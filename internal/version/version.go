// Package version holds the build version, set at link time via
// -ldflags "-X github.com/proofsync/proofsync/internal/version.Version=...".
package version

// Version is the current proofsync version. "dev" for source builds.
var Version = "dev"
