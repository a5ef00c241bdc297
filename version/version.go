package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// You can set the version at build time using something like:
// go build -ldflags "-X github.com/loopsync/loopsync/version.Version=$(git describe --dirty)"

var Version string

// Hash is the short VCS revision the binary was built from, suffixed with
// -dirty for a modified work tree, or empty without build info.
var Hash = func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	revision, modified := "", false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if revision != "" && modified {
		return revision + "-dirty"
	}
	return revision
}()

var VersionOrHash = func() string {
	if Version != "" {
		return Version
	}
	if Hash != "" {
		return Hash
	}
	return "devel"
}()

// Describe is the line printed by the -v flag of the commands.
func Describe(command string) string {
	return fmt.Sprintf("%s %s (%s %s/%s)", command, VersionOrHash, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
