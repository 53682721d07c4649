package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/session"
)

// editorCandidates are tried in order when no editor is configured.
var editorCandidates = []string{"cursor", "code"}

// DetectEditor returns the first editor found on PATH, or "code" when none is.
func DetectEditor() string {
	for _, name := range editorCandidates {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return "code"
}

// OpenInEditor launches editor on the workspace at path and returns without
// waiting for it. editor may carry extra flags ("code -n"); empty means
// DetectEditor. The path is always passed as one argument.
func OpenInEditor(path, editor string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("workspace %s: %w", path, err)
	}
	fields := strings.Fields(editor)
	if len(fields) == 0 {
		fields = []string{DetectEditor()}
	}
	name, args := fields[0], append(fields[1:len(fields):len(fields)], path)

	bin, err := exec.LookPath(name)
	if err != nil {
		return &session.ToolError{Tool: name, Args: args, Err: err}
	}
	cmd := exec.Command(bin, args...)
	cmd.Dir = path
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return &session.ToolError{Tool: name, Args: args, Err: err}
	}
	debug.LogKV("worktree", "opened editor", "editor", bin, "path", path, "pid", cmd.Process.Pid)
	go cmd.Wait()
	return nil
}
