package buildinfo

import "fmt"

// These variables are intended to be set via -ldflags at build time:
//
//	-X 'github.com/m3rciful/relaybot/core/buildinfo.Version=v1.2.3'
//	-X 'github.com/m3rciful/relaybot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/relaybot/core/buildinfo.Date=2025-08-30T12:00:00Z'
var (
	Version = "dev"
	Commit  = "local"
	Date    = ""
)

// String renders the build identity for the --version flag.
func String() string {
	if Date == "" {
		return fmt.Sprintf("relaybot %s (%s)", Version, Commit)
	}
	return fmt.Sprintf("relaybot %s (%s, built %s)", Version, Commit, Date)
}
