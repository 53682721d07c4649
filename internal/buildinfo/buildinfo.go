// Package buildinfo reports the version baton was built from.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

const defaultVersion = "0.1.0"

// Linker-overridable build metadata:
//
//	go build -ldflags "-X github.com/agusx1211/baton/internal/buildinfo.Version=v1.0.0"
var (
	Version    = defaultVersion
	CommitHash = ""
	BuildDate  = ""
)

// Info is normalized build metadata for display.
type Info struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// Current returns build metadata from linker overrides, falling back to the
// module version and VCS stamps embedded by the Go toolchain.
func Current() Info {
	info := Info{
		Version:    strings.TrimSpace(Version),
		CommitHash: strings.TrimSpace(CommitHash),
		BuildDate:  strings.TrimSpace(BuildDate),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		vcs := readVCS(bi.Settings)
		if (info.Version == "" || info.Version == defaultVersion) && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		if info.CommitHash == "" {
			info.CommitHash = vcs.revision
			if info.CommitHash != "" && vcs.dirty && !strings.HasSuffix(info.CommitHash, "-dirty") {
				info.CommitHash += "-dirty"
			}
		}
		if info.BuildDate == "" {
			info.BuildDate = vcs.time
		}
	}

	if parsed, err := time.Parse(time.RFC3339, info.BuildDate); err == nil {
		info.BuildDate = parsed.UTC().Format("2006-01-02 15:04:05 UTC")
	}
	info.Version = orUnknown(info.Version)
	info.CommitHash = orUnknown(info.CommitHash)
	info.BuildDate = orUnknown(info.BuildDate)
	return info
}

type vcsStamp struct {
	revision string
	time     string
	dirty    bool
}

func readVCS(settings []debug.BuildSetting) vcsStamp {
	var v vcsStamp
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = strings.TrimSpace(s.Value)
		case "vcs.time":
			v.time = strings.TrimSpace(s.Value)
		case "vcs.modified":
			v.dirty = strings.EqualFold(strings.TrimSpace(s.Value), "true")
		}
	}
	return v
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// String renders the one-line form printed by `baton --version`.
func (i Info) String() string {
	commit := i.CommitHash
	if len(commit) > 12 && commit != "unknown" {
		commit = commit[:12]
	}
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, commit, i.BuildDate)
}

// UserAgent identifies baton in outgoing HTTP requests.
func UserAgent() string {
	return "baton/" + Current().Version
}
