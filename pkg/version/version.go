// Package version reports the build version of the weft commands.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Release is the library release. Overridden at build time with
// -ldflags "-X github.com/weft-protocol/weft-go/pkg/version.Release=...".
var Release = "0.3.0"

// String returns a one-line version banner including the VCS revision
// when the binary was built from a checkout.
func String() string {
	if rev := revision(); rev != "" {
		return fmt.Sprintf("weft-go %s (%s, %s)", Release, rev, runtime.Version())
	}
	return fmt.Sprintf("weft-go %s (%s)", Release, runtime.Version())
}

// revision returns the short VCS revision recorded in the build info,
// with a "-dirty" suffix for modified checkouts.
func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}

	var rev, modified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				modified = "-dirty"
			}
		}
	}
	if rev == "" {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return rev + modified
}
