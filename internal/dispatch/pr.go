package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/session"
	"github.com/agusx1211/baton/internal/worktree"
)

// GHCommand is the GitHub CLI binary used to open pull requests.
var GHCommand = "gh"

// CreatePullRequest commits any leftover changes in the session's
// workspace, pushes its branch and opens a pull request against the base
// branch. The URL is stored as the session's result.
func (s *Supervisor) CreatePullRequest(ctx context.Context, id string) (session.Session, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return session.Session{}, err
	}
	if rec.IsRunning() {
		return session.Session{}, fmt.Errorf("%w: %s", ErrRunning, rec.ShortID())
	}
	if _, err := os.Stat(rec.WorkspacePath); err != nil {
		return session.Session{}, fmt.Errorf("workspace for %s is gone: %w", rec.ShortID(), err)
	}
	debug.LogKV("dispatch", "CreatePullRequest()", "session", id, "branch", rec.Branch)

	title := fmt.Sprintf("Fix #%d: %s", rec.TaskID, rec.TaskTitle)
	if _, _, err := worktree.AutoCommitIfDirty(ctx, rec.WorkspacePath, title); err != nil {
		return session.Session{}, err
	}
	if err := worktree.Push(ctx, rec.WorkspacePath, rec.Branch); err != nil {
		return session.Session{}, fmt.Errorf("pushing %s: %w", rec.Branch, err)
	}

	body := fmt.Sprintf("Closes #%d\n\nOpened by baton from a %s session.", rec.TaskID, rec.Backend)
	args := []string{"pr", "create", "--head", rec.Branch, "--title", title, "--body", body}
	if rec.BaseBranch != "" {
		args = append(args, "--base", rec.BaseBranch)
	}
	cmd := exec.CommandContext(ctx, GHCommand, args...)
	cmd.Dir = rec.WorkspacePath
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return session.Session{}, &session.ToolError{Tool: GHCommand, Args: args[:2], Output: stderr.String(), Err: err}
	}
	url := lastLine(string(out))
	if url == "" {
		return session.Session{}, &session.ToolError{Tool: GHCommand, Args: args[:2], Output: stderr.String(), Err: fmt.Errorf("no pull request URL in output")}
	}

	return s.store.Update(id, func(cur *session.Session) error {
		cur.ResultURL = url
		return nil
	})
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
