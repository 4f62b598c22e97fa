// Package buildinfo stores build-time metadata shared across packages.
package buildinfo

// Version and Commit are set via ldflags during build.
var (
	Version = "dev"
	Commit  = "none"
)

// UserAgent returns the User-Agent header value for outbound HTTP requests.
func UserAgent() string {
	return "gpte/" + Version
}
