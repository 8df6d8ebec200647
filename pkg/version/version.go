package version

import (
	"runtime/debug"
	"strings"
)

const defaultVersion = "0.1.0-dev"

// Version is the semantic version the binary reports. Release builds set
// it with -ldflags "-X github.com/envhealthd/envhealthd/pkg/version.Version=<value>";
// otherwise it is derived from module or VCS build metadata.
var Version = defaultVersion

var readBuildInfo = debug.ReadBuildInfo

func init() {
	Version = deriveVersion(Version)
}

// deriveVersion resolves the effective version: an ldflags override wins,
// then the module version stamped by `go install`, then the VCS revision.
func deriveVersion(current string) string {
	if current != "" && current != defaultVersion {
		return current
	}

	info, ok := readBuildInfo()
	if !ok || info == nil {
		return current
	}

	if main := strings.TrimSpace(info.Main.Version); main != "" && main != "(devel)" {
		return main
	}
	if vcs := vcsVersion(info.Settings); vcs != "" {
		return vcs
	}
	return current
}

// vcsVersion builds a devel pseudo-version from the embedded VCS metadata.
func vcsVersion(settings []debug.BuildSetting) string {
	var revision string
	var dirty bool
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			revision = strings.TrimSpace(setting.Value)
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	pseudo := "devel+" + revision
	if dirty {
		pseudo += "-dirty"
	}
	return pseudo
}
