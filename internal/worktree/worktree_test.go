package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agusx1211/baton/internal/session"
)

func TestCreateMakesBranchAndWorktree(t *testing.T) {
	repo := initGitRepo(t)
	root := filepath.Join(t.TempDir(), DirName)
	mgr := NewManager(repo, root, "")
	ctx := context.Background()

	ws, err := mgr.Create(ctx, 42)
	require.NoError(t, err)

	assert.Equal(t, "issue-42", ws.Branch)
	assert.Equal(t, "main", ws.BaseBranch)
	assert.Equal(t, filepath.Join(root, ProjectName(repo)+"-42"), ws.Path)
	assert.NotEqual(t, repo, ws.Path)

	head := strings.TrimSpace(gitOutput(t, ws.Path, "rev-parse", "--abbrev-ref", "HEAD"))
	assert.Equal(t, "issue-42", head)
	assert.FileExists(t, filepath.Join(ws.Path, "main.txt"))
}

func TestCreateTwiceConflicts(t *testing.T) {
	repo := initGitRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), DirName), "")
	ctx := context.Background()

	first, err := mgr.Create(ctx, 7)
	require.NoError(t, err)

	_, err = mgr.Create(ctx, 7)
	assert.ErrorIs(t, err, session.ErrConflict)
	assert.DirExists(t, first.Path)

	// A leftover directory without the branch also conflicts.
	require.NoError(t, mgr.Remove(ctx, first, true))
	require.NoError(t, os.MkdirAll(first.Path, 0755))
	_, err = mgr.Create(ctx, 7)
	assert.ErrorIs(t, err, session.ErrConflict)
}

func TestCreateRejectsBadInput(t *testing.T) {
	repo := initGitRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), DirName), "")
	_, err := mgr.Create(context.Background(), 0)
	assert.Error(t, err)

	notRepo := NewManager(t.TempDir(), filepath.Join(t.TempDir(), DirName), "")
	_, err = notRepo.Create(context.Background(), 1)
	assert.Error(t, err)

	missingBase := NewManager(repo, filepath.Join(t.TempDir(), DirName), "develop")
	_, err = missingBase.Create(context.Background(), 1)
	assert.Error(t, err)
}

func TestCreateFallsBackToCurrentBranch(t *testing.T) {
	repo := initGitRepo(t)
	runGit(t, repo, "branch", "-m", "main", "trunk")
	mgr := NewManager(repo, filepath.Join(t.TempDir(), DirName), "")

	ws, err := mgr.Create(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "trunk", ws.BaseBranch)
}

func TestRemoveDeletesWorktreeAndBranch(t *testing.T) {
	repo := initGitRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), DirName), "")
	ctx := context.Background()

	ws, err := mgr.Create(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, mgr.Remove(ctx, ws, false))

	assert.NoDirExists(t, ws.Path)
	assert.False(t, mgr.branchExists(ctx, ws.Branch))

	// Removing again tolerates the missing worktree.
	assert.NoError(t, mgr.Remove(ctx, ws, false))
}

func TestRemoveMergedBranchWhileCheckoutIsElsewhere(t *testing.T) {
	repo := initGitRepo(t)
	// The main checkout sits on a branch that diverged from main, and main
	// moved on after that.
	runGit(t, repo, "checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "feature.txt"), []byte("f\n"), 0644))
	runGit(t, repo, "add", "feature.txt")
	runGitWithConfig(t, repo, []string{"user.name=Test", "user.email=test@example.com"}, "commit", "-m", "feature work")
	runGit(t, repo, "checkout", "main")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.txt"), []byte("advanced\n"), 0644))
	runGitWithConfig(t, repo, []string{"user.name=Test", "user.email=test@example.com"}, "commit", "-am", "advance main")
	runGit(t, repo, "checkout", "feature")

	mgr := NewManager(repo, filepath.Join(t.TempDir(), DirName), "")
	ctx := context.Background()
	ws, err := mgr.Create(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, "main", ws.BaseBranch)

	require.NoError(t, mgr.Remove(ctx, ws, false))
	assert.NoDirExists(t, ws.Path)
	assert.False(t, mgr.branchExists(ctx, ws.Branch))
}

func TestRemoveRefusesUnmergedWorkWithoutForce(t *testing.T) {
	repo := initGitRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), DirName), "")
	ctx := context.Background()

	ws, err := mgr.Create(ctx, 9)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "feature.txt"), []byte("a\nb\n"), 0644))
	_, committed, err := AutoCommitIfDirty(ctx, ws.Path, "agent work")
	require.NoError(t, err)
	require.True(t, committed)

	err = mgr.Remove(ctx, ws, false)
	require.Error(t, err)
	assert.DirExists(t, ws.Path)
	assert.True(t, mgr.branchExists(ctx, ws.Branch))

	require.NoError(t, mgr.Remove(ctx, ws, true))
	assert.NoDirExists(t, ws.Path)
	assert.False(t, mgr.branchExists(ctx, ws.Branch))
}

func TestRemoveRefusesDirtyWorktreeWithoutForce(t *testing.T) {
	repo := initGitRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), DirName), "")
	ctx := context.Background()

	ws, err := mgr.Create(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "main.txt"), []byte("changed\n"), 0644))

	assert.Error(t, mgr.Remove(ctx, ws, false))
	assert.DirExists(t, ws.Path)
	assert.NoError(t, mgr.Remove(ctx, ws, true))
}

func TestAutoCommitIfDirty_CommitsChanges(t *testing.T) {
	repo := initGitRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), DirName), "")
	ctx := context.Background()

	ws, err := mgr.Create(ctx, 11)
	require.NoError(t, err)
	defer mgr.Remove(ctx, ws, true)

	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "main.txt"), []byte("updated\n"), 0644))

	hash, committed, err := AutoCommitIfDirty(ctx, ws.Path, "test auto-commit")
	require.NoError(t, err)
	assert.True(t, committed)
	assert.NotEmpty(t, hash)

	head := strings.TrimSpace(gitOutput(t, repo, "rev-parse", ws.Branch))
	assert.Equal(t, hash, head)
	assert.Empty(t, strings.TrimSpace(gitOutput(t, ws.Path, "status", "--porcelain")))

	hash, committed, err = AutoCommitIfDirty(ctx, ws.Path, "nothing")
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Empty(t, hash)
}

func TestParseWorkspaceDir(t *testing.T) {
	tests := []struct {
		name    string
		project string
		task    int
		ok      bool
	}{
		{"demo-12", "demo", 12, true},
		{"my-project-name-123", "my-project-name", 123, true},
		{"nodash", "nodash", 0, false},
		{"demo-abc", "demo-abc", 0, false},
		{"demo-", "demo-", 0, false},
		{"-5", "-5", 0, false},
	}
	for _, tt := range tests {
		project, task, ok := ParseWorkspaceDir(tt.name)
		assert.Equal(t, tt.project, project, tt.name)
		assert.Equal(t, tt.task, task, tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
	}
}

func TestParentRepo(t *testing.T) {
	repo := initGitRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), DirName), "")
	ws, err := mgr.Create(context.Background(), 4)
	require.NoError(t, err)

	got, err := ParentRepo(ws.Path)
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(repo)
	gotResolved, _ := filepath.EvalSymlinks(got)
	assert.Equal(t, want, gotResolved)

	_, err = ParentRepo(repo)
	assert.Error(t, err, "a main checkout has a .git directory, not a pointer file")
}

func TestListOrphansAndRemoveEntry(t *testing.T) {
	repo := initGitRepo(t)
	root := filepath.Join(t.TempDir(), DirName)
	mgr := NewManager(repo, root, "")
	ctx := context.Background()

	owned, err := mgr.Create(ctx, 1)
	require.NoError(t, err)
	orphan, err := mgr.Create(ctx, 2)
	require.NoError(t, err)
	stray := filepath.Join(root, "stray")
	require.NoError(t, os.MkdirAll(stray, 0755))

	sessions := []session.Session{{ID: "s1", WorkspacePath: owned.Path}}
	orphans, err := ListOrphans(root, sessions)
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	assert.Equal(t, filepath.Base(orphan.Path), orphans[0].Name)
	assert.Equal(t, 2, orphans[0].TaskID)
	assert.Equal(t, "stray", orphans[1].Name)
	assert.Zero(t, orphans[1].TaskID)
	assert.WithinDuration(t, time.Now(), orphans[0].ModTime, time.Minute)

	for _, e := range orphans {
		require.NoError(t, RemoveEntry(ctx, e))
	}
	assert.NoDirExists(t, orphan.Path)
	assert.NoDirExists(t, stray)
	assert.False(t, mgr.branchExists(ctx, orphan.Branch))
	assert.DirExists(t, owned.Path)
}

func TestListMissingRoot(t *testing.T) {
	entries, err := List(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func initGitRepo(t *testing.T) string {
	t.Helper()
	repo := filepath.Join(t.TempDir(), "demo")
	require.NoError(t, os.MkdirAll(repo, 0755))

	runGit(t, repo, "init")
	runGit(t, repo, "checkout", "-b", "main")

	if err := os.WriteFile(filepath.Join(repo, "main.txt"), []byte("initial\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	runGit(t, repo, "add", "main.txt")
	runGitWithConfig(t, repo, []string{"user.name=Test", "user.email=test@example.com"}, "commit", "-m", "initial commit")
	return repo
}

func gitOutput(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, string(out))
	}
	return string(out)
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	_ = gitOutput(t, dir, args...)
}

func runGitWithConfig(t *testing.T, dir string, config []string, args ...string) {
	t.Helper()
	fullArgs := make([]string, 0, len(config)*2+len(args))
	for _, kv := range config {
		fullArgs = append(fullArgs, "-c", kv)
	}
	fullArgs = append(fullArgs, args...)
	runGit(t, dir, fullArgs...)
}
