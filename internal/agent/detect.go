package agent

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionProbeTimeout = 1800 * time.Millisecond

var semverRE = regexp.MustCompile(`(?i)\bv?(\d+\.\d+(?:\.\d+)?(?:[-+][0-9A-Za-z.-]+)?)\b`)

// Installation describes where an adapter's binary was found.
type Installation struct {
	Backend   Backend `json:"backend"`
	Command   string  `json:"command"`
	Path      string  `json:"path,omitempty"`
	Version   string  `json:"version,omitempty"`
	Installed bool    `json:"installed"`
}

// Detect looks up the adapter's binary on PATH and probes its version.
// A missing binary is reported with Installed false, not as an error.
func (a Adapter) Detect(ctx context.Context) Installation {
	cmd := strings.TrimSpace(a.Command)
	if cmd == "" {
		cmd = string(a.Backend)
	}
	inst := Installation{Backend: a.Backend, Command: cmd}
	path, ok := resolveBinaryPath(cmd)
	if !ok {
		return inst
	}
	inst.Path = path
	inst.Installed = true
	inst.Version = detectVersion(ctx, path)
	return inst
}

func resolveBinaryPath(binary string) (string, bool) {
	p, err := exec.LookPath(binary)
	if err != nil {
		return "", false
	}
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() || fi.Mode()&0111 == 0 {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p, true
}

func detectVersion(ctx context.Context, commandPath string) string {
	for _, args := range [][]string{{"--version"}, {"-v"}, {"version"}} {
		out, err := runVersionProbe(ctx, commandPath, args)
		if err != nil && out == "" {
			continue
		}
		if version := parseVersion(out); version != "" {
			return version
		}
	}
	return "unknown"
}

func runVersionProbe(ctx context.Context, commandPath string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, commandPath, args...).CombinedOutput()
	out := strings.TrimSpace(string(output))
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, ctx.Err()
	}
	return out, err
}

func parseVersion(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return ""
	}
	if m := semverRE.FindStringSubmatch(output); len(m) > 1 {
		return m[1]
	}
	line, _, _ := strings.Cut(output, "\n")
	line = strings.TrimSpace(line)
	if len(line) > 48 {
		line = line[:48]
	}
	return line
}
