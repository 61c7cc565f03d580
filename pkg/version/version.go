// Package version reports the build identity of the health-agent binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const defaultVersion = "0.1.0-dev"

// Version can be set at build time via
// -ldflags "-X github.com/hostwatchd/hostwatchd/pkg/version.Version=<value>".
var Version = defaultVersion

var readBuildInfo = debug.ReadBuildInfo

// Info describes the running binary.
type Info struct {
	Version   string `yaml:"version"`
	Revision  string `yaml:"revision,omitempty"`
	Modified  bool   `yaml:"modified,omitempty"`
	GoVersion string `yaml:"go_version"`
}

func (i Info) String() string {
	return fmt.Sprintf("health-agent %s (%s)", i.Version, i.GoVersion)
}

// Get resolves the version from the ldflags override, the module version or
// the VCS stamp, in that order.
func Get() Info {
	info := Info{Version: Version, GoVersion: runtime.Version()}
	build, ok := readBuildInfo()
	if ok && build != nil {
		info.Revision, info.Modified = vcsStamp(build.Settings)
	}
	if info.Version != "" && info.Version != defaultVersion {
		return info
	}
	if !ok || build == nil {
		return info
	}
	if v := strings.TrimSpace(build.Main.Version); v != "" && v != "(devel)" {
		info.Version = v
		return info
	}
	if info.Revision != "" {
		info.Version = "devel+" + shortRevision(info.Revision, info.Modified)
	}
	return info
}

func vcsStamp(settings []debug.BuildSetting) (revision string, modified bool) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			revision = strings.TrimSpace(setting.Value)
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	return revision, modified
}

func shortRevision(revision string, modified bool) string {
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if modified {
		revision += "-dirty"
	}
	return revision
}
