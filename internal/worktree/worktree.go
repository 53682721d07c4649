// Package worktree manages the isolated git worktrees agents work in. Each
// task gets a branch named issue-<task> and a worktree directory named
// <project>-<task> under the cache's worktrees directory.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/session"
)

// DirName is the worktrees directory name inside the cache directory.
const DirName = "worktrees"

// Workspace is one isolated working copy.
type Workspace struct {
	Path       string
	Branch     string
	BaseBranch string
	RepoPath   string
	Project    string
	TaskID     int
}

// Manager creates and removes worktrees of one repository.
type Manager struct {
	repoRoot   string
	root       string
	baseBranch string
}

// NewManager returns a Manager for the repository at repoRoot that places
// worktrees under root. baseBranch may be empty to auto-detect.
func NewManager(repoRoot, root, baseBranch string) *Manager {
	return &Manager{
		repoRoot:   repoRoot,
		root:       root,
		baseBranch: strings.TrimSpace(baseBranch),
	}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// BranchName is the branch created for a task.
func BranchName(taskID int) string {
	return fmt.Sprintf("issue-%d", taskID)
}

// ProjectName derives the project identifier from a repository path.
func ProjectName(repoRoot string) string {
	if abs, err := filepath.Abs(repoRoot); err == nil {
		repoRoot = abs
	}
	return sanitize(filepath.Base(filepath.Clean(repoRoot)))
}

// WorkspaceDir is the directory name for a project's task worktree.
func WorkspaceDir(project string, taskID int) string {
	return fmt.Sprintf("%s-%d", sanitize(project), taskID)
}

// ParseWorkspaceDir splits a "<project>-<task>" directory name at its last
// dash. ok is false when the suffix is not a task number.
func ParseWorkspaceDir(name string) (project string, taskID int, ok bool) {
	pos := strings.LastIndex(name, "-")
	if pos <= 0 || pos == len(name)-1 {
		return name, 0, false
	}
	n, err := strconv.Atoi(name[pos+1:])
	if err != nil || n <= 0 {
		return name, 0, false
	}
	return name[:pos], n, true
}

// Create makes the branch and worktree for taskID, forked from the head of
// the base branch. An existing branch or directory is a conflict; nothing
// is created in that case.
func (m *Manager) Create(ctx context.Context, taskID int) (Workspace, error) {
	debug.LogKV("worktree", "Create()", "task", taskID, "repo_root", m.repoRoot)
	if taskID <= 0 {
		return Workspace{}, fmt.Errorf("task id must be positive, got %d", taskID)
	}

	repo, err := git.PlainOpen(m.repoRoot)
	if err != nil {
		return Workspace{}, fmt.Errorf("opening repository %s: %w", m.repoRoot, err)
	}
	if _, err := repo.Head(); err != nil {
		return Workspace{}, fmt.Errorf("repository %s has no commit at HEAD: %w", m.repoRoot, err)
	}
	base, err := resolveBase(repo, m.baseBranch)
	if err != nil {
		return Workspace{}, err
	}

	project := ProjectName(m.repoRoot)
	ws := Workspace{
		Path:       filepath.Join(m.root, WorkspaceDir(project, taskID)),
		Branch:     BranchName(taskID),
		BaseBranch: base,
		RepoPath:   m.repoRoot,
		Project:    project,
		TaskID:     taskID,
	}

	if _, err := repo.Reference(plumbing.NewBranchReferenceName(ws.Branch), false); err == nil {
		return Workspace{}, fmt.Errorf("%w: branch %s already exists", session.ErrConflict, ws.Branch)
	}
	if _, err := os.Stat(ws.Path); err == nil {
		return Workspace{}, fmt.Errorf("%w: workspace %s already exists", session.ErrConflict, ws.Path)
	}
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return Workspace{}, fmt.Errorf("creating worktree dir: %w", err)
	}

	if _, err := m.git(ctx, "branch", ws.Branch, base); err != nil {
		return Workspace{}, fmt.Errorf("creating branch %s: %w", ws.Branch, err)
	}
	if _, err := m.git(ctx, "worktree", "add", ws.Path, ws.Branch); err != nil {
		// Rollback branch on failure.
		m.git(ctx, "branch", "-D", ws.Branch)
		return Workspace{}, fmt.Errorf("worktree add: %w", err)
	}

	debug.LogKV("worktree", "created", "branch", ws.Branch, "base", base, "path", ws.Path)
	return ws, nil
}

// resolveBase picks the branch new worktrees fork from: the configured one,
// else main, else master, else whatever HEAD points at.
func resolveBase(repo *git.Repository, preferred string) (string, error) {
	exists := func(name string) bool {
		_, err := repo.Reference(plumbing.NewBranchReferenceName(name), false)
		return err == nil
	}
	if preferred != "" {
		if !exists(preferred) {
			return "", fmt.Errorf("base branch %s does not exist", preferred)
		}
		return preferred, nil
	}
	for _, name := range []string{"main", "master"} {
		if exists(name) {
			return name, nil
		}
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("cannot pick a base branch: HEAD is detached and no main or master branch exists")
	}
	return head.Name().Short(), nil
}

// Remove deletes the worktree and then its branch. A worktree that is
// already gone is not an error. Without force, a worktree with local
// changes or a branch with commits not on the base branch is refused
// before anything is removed.
func (m *Manager) Remove(ctx context.Context, ws Workspace, force bool) error {
	debug.LogKV("worktree", "Remove()", "path", ws.Path, "branch", ws.Branch, "force", force)
	_, statErr := os.Stat(ws.Path)
	present := statErr == nil

	// merged means the branch is contained in the base branch. git branch -d
	// would judge that against whatever the main checkout has at HEAD.
	merged := false
	if !force && ws.Branch != "" && ws.BaseBranch != "" && m.branchExists(ctx, ws.Branch) {
		if _, err := m.git(ctx, "merge-base", "--is-ancestor", ws.Branch, ws.BaseBranch); err != nil {
			return fmt.Errorf("branch %s has commits not in %s (use force to discard): %w", ws.Branch, ws.BaseBranch, err)
		}
		merged = true
	}

	if present {
		args := []string{"worktree", "remove"}
		if force {
			args = append(args, "--force")
		}
		args = append(args, ws.Path)
		if _, err := m.git(ctx, args...); err != nil {
			if !force {
				return fmt.Errorf("removing worktree %s: %w", ws.Path, err)
			}
			// Fallback: manual cleanup.
			if removeErr := os.RemoveAll(ws.Path); removeErr != nil {
				m.git(ctx, "worktree", "prune")
				return fmt.Errorf("worktree remove failed (%w) and manual cleanup also failed: %v", err, removeErr)
			}
		}
	}
	m.git(ctx, "worktree", "prune")

	if ws.Branch == "" || !m.branchExists(ctx, ws.Branch) {
		return nil
	}
	flag := "-d"
	if force || merged {
		flag = "-D"
	}
	if _, err := m.git(ctx, "branch", flag, ws.Branch); err != nil {
		return fmt.Errorf("deleting branch %s: %w", ws.Branch, err)
	}
	return nil
}

func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, err := m.git(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// AutoCommitIfDirty stages and commits all changes in a worktree when needed.
// It returns (commitHash, committed, error). If there are no changes, committed=false.
func AutoCommitIfDirty(ctx context.Context, worktreePath, message string) (string, bool, error) {
	debug.LogKV("worktree", "AutoCommitIfDirty()", "path", worktreePath)
	if strings.TrimSpace(worktreePath) == "" {
		return "", false, fmt.Errorf("worktree path is empty")
	}

	status, err := gitIn(ctx, worktreePath, "status", "--porcelain")
	if err != nil {
		return "", false, fmt.Errorf("status in worktree %s: %w", worktreePath, err)
	}
	if strings.TrimSpace(status) == "" {
		return "", false, nil
	}

	if _, err := gitIn(ctx, worktreePath, "add", "-A"); err != nil {
		return "", false, fmt.Errorf("staging changes in worktree %s: %w", worktreePath, err)
	}

	// Ignore user-level git identity settings and use a stable local identity for fallback commits.
	commitArgs := []string{
		"-c", "user.name=baton",
		"-c", "user.email=baton@local",
		"commit", "-m", message,
	}
	if _, err := gitIn(ctx, worktreePath, commitArgs...); err != nil {
		return "", false, fmt.Errorf("auto-commit in worktree %s: %w", worktreePath, err)
	}

	hash, err := gitIn(ctx, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", false, fmt.Errorf("rev-parse HEAD in worktree %s: %w", worktreePath, err)
	}
	return strings.TrimSpace(hash), true, nil
}

// Push publishes the worktree's branch to origin and sets upstream.
func Push(ctx context.Context, worktreePath, branch string) error {
	_, err := gitIn(ctx, worktreePath, "push", "--set-upstream", "origin", branch)
	return err
}

// ParentRepo returns the main repository of a linked worktree by reading
// the "gitdir: <repo>/.git/worktrees/<name>" pointer in its .git file.
func ParentRepo(worktreePath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(worktreePath, ".git"))
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	gitdir, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("%s/.git is not a worktree pointer", worktreePath)
	}
	gitdir = filepath.Clean(strings.TrimSpace(gitdir))
	// <repo>/.git/worktrees/<name>
	worktrees := filepath.Dir(gitdir)
	dotGit := filepath.Dir(worktrees)
	if filepath.Base(worktrees) != "worktrees" || filepath.Base(dotGit) != ".git" {
		return "", fmt.Errorf("unexpected gitdir %s", gitdir)
	}
	return filepath.Dir(dotGit), nil
}

// git runs a git command in the repo root and returns combined output.
func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	return gitIn(ctx, m.repoRoot, args...)
}

// gitIn runs git in dir. Failures come back as *session.ToolError carrying
// the combined output.
func gitIn(ctx context.Context, dir string, args ...string) (string, error) {
	debug.LogKV("worktree", "git exec", "cmd", "git "+strings.Join(args, " "), "dir", dir)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		debug.LogKV("worktree", "git exec failed", "cmd", "git "+strings.Join(args, " "), "error", err, "output_len", len(out))
		return string(out), &session.ToolError{Tool: "git", Args: args, Output: string(out), Err: err}
	}
	debug.LogKV("worktree", "git exec ok", "cmd", "git "+strings.Join(args, " "), "output_len", len(out))
	return string(out), nil
}

// Toplevel returns the root of the working tree containing dir.
func Toplevel(ctx context.Context, dir string) (string, error) {
	out, err := gitIn(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("%s is not inside a git repository: %w", dir, err)
	}
	return strings.TrimSpace(out), nil
}
