// Package version holds build information for the peripheral binary.
package version

// Overridable at build time:
// go build -ldflags "-X peripheral/internal/version.Version=1.0.0 -X peripheral/internal/version.Commit=abc123"
var (
	// Version is the semantic version of the service.
	Version = "0.4.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// ServerName identifies the service in protocol handshakes and user agents.
const ServerName = "peripheral"

// Info returns the version with a short commit suffix when one is known.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// UserAgent is sent on outbound store requests.
func UserAgent() string {
	return ServerName + "/" + Version
}

// Full returns complete version information
func Full() string {
	return "peripheral version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate
}
