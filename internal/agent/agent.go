// Package agent builds the command lines that hand a prompt to an external
// coding-agent CLI. Backends form a closed set; adding one means extending
// Backends and argv, nothing else.
package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Backend names an agent CLI.
type Backend string

const (
	Claude   Backend = "claude"
	Opencode Backend = "opencode"
	Codex    Backend = "codex"
)

// Backends returns every supported backend in display order.
func Backends() []Backend {
	return []Backend{Claude, Opencode, Codex}
}

// ParseBackend resolves a backend name, case-insensitively.
func ParseBackend(name string) (Backend, error) {
	want := Backend(strings.ToLower(strings.TrimSpace(name)))
	for _, b := range Backends() {
		if b == want {
			return b, nil
		}
	}
	names := make([]string, 0, len(Backends()))
	for _, b := range Backends() {
		names = append(names, string(b))
	}
	return "", fmt.Errorf("unknown agent %q (available: %s)", name, strings.Join(names, ", "))
}

// Invocation is a fully resolved process launch. Args is a discrete argv;
// nothing here is ever joined into a shell string.
type Invocation struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // KEY=VALUE entries added to the inherited environment
}

// Adapter turns prompts into invocations for one backend.
type Adapter struct {
	Backend Backend
	Command string            // binary; empty means the backend name
	Args    []string          // extra flags, placed before the prompt
	Env     map[string]string // extra environment variables
}

// For returns an adapter for b with default settings.
func For(b Backend) Adapter {
	return Adapter{Backend: b}
}

// BuildInvocation renders the command line that runs prompt in workDir.
func (a Adapter) BuildInvocation(prompt, workDir string) (Invocation, error) {
	if strings.TrimSpace(workDir) == "" {
		return Invocation{}, fmt.Errorf("working directory is required")
	}
	prompt = Sanitize(prompt)
	if strings.TrimSpace(prompt) == "" {
		return Invocation{}, fmt.Errorf("prompt is empty")
	}
	args, err := argv(a.Backend, a.Args, prompt)
	if err != nil {
		return Invocation{}, err
	}
	cmd := strings.TrimSpace(a.Command)
	if cmd == "" {
		cmd = string(a.Backend)
	}
	inv := Invocation{Command: cmd, Args: args, Dir: workDir}
	if a.Backend == Codex && !hasEnvKey(a.Env, "RUST_LOG") {
		inv.Env = append(inv.Env, "RUST_LOG="+codexDefaultRustLog)
	}
	keys := make([]string, 0, len(a.Env))
	for k := range a.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		inv.Env = append(inv.Env, k+"="+a.Env[k])
	}
	return inv, nil
}

const codexDefaultRustLog = "error"

// argv maps a backend to its non-interactive command line.
func argv(b Backend, userArgs []string, prompt string) ([]string, error) {
	switch b {
	case Claude:
		// claude [flags] -p <prompt>
		args := append([]string(nil), userArgs...)
		return append(args, "-p", prompt), nil

	case Opencode:
		// opencode run [flags] <prompt>
		args := append([]string{"run"}, userArgs...)
		return append(args, prompt), nil

	case Codex:
		// codex exec [flags] <prompt>. The worktree's .git points outside
		// the working directory, so codex's sandbox must be off for the
		// agent to commit.
		args := []string{"exec"}
		if !hasFlag(userArgs, "--skip-git-repo-check") {
			args = append(args, "--skip-git-repo-check")
		}
		flags := withoutFlag(userArgs, "--full-auto")
		args = append(args, flags...)
		if !hasFlag(flags, "--dangerously-bypass-approvals-and-sandbox") && !hasFlag(flags, "--yolo") {
			args = append(args, "--dangerously-bypass-approvals-and-sandbox")
		}
		return append(args, prompt), nil

	default:
		return nil, fmt.Errorf("unknown agent %q", b)
	}
}

// hasFlag returns true if flag appears in args.
func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// withoutFlag returns a copy of args with exact matches to flag removed.
func withoutFlag(args []string, flag string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == flag {
			continue
		}
		out = append(out, a)
	}
	return out
}

func hasEnvKey(env map[string]string, key string) bool {
	_, ok := env[key]
	return ok
}
