// Package buildinfo holds values injected at build time:
//
//	go build -ldflags "-X github.com/NimbleStorage/nimble-sap-hana-agent/internal/buildinfo.Version=v1.2.0"
package buildinfo

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built at " + BuildTime
}
