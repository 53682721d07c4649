package dispatch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agusx1211/baton/internal/agent"
	"github.com/agusx1211/baton/internal/config"
	"github.com/agusx1211/baton/internal/proc"
	"github.com/agusx1211/baton/internal/session"
	"github.com/agusx1211/baton/internal/store"
	"github.com/agusx1211/baton/internal/worktree"
)

type captured struct {
	mu   sync.Mutex
	sent []string
}

func (c *captured) Notify(_ context.Context, _, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, message)
	return nil
}

func (c *captured) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type harness struct {
	sup   *Supervisor
	cfg   *config.Config
	st    *store.Store
	repo  string
	notes *captured
}

// newHarness builds a supervisor whose claude backend is a shell script.
func newHarness(t *testing.T, script string) *harness {
	t.Helper()
	repo := initGitRepo(t)
	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	cfg.PollInterval = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Agents = map[string]config.AgentConfig{
		"claude": {Command: writeAgent(t, script)},
	}
	st, err := store.Open(cfg.SessionsPath())
	require.NoError(t, err)

	notes := &captured{}
	sup := New(cfg, st, Options{Notifier: notes, KillGrace: time.Second})
	t.Cleanup(sup.Shutdown)
	t.Cleanup(func() { terminateAll(st) })
	return &harness{sup: sup, cfg: cfg, st: st, repo: repo, notes: notes}
}

func terminateAll(st *store.Store) {
	sessions, _ := st.List()
	for _, s := range sessions {
		if s.IsRunning() && s.PID.Valid() {
			_ = proc.Attach(s.PID, "").Terminate(time.Second)
		}
	}
}

func writeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	return path
}

func (h *harness) request(taskID int, title string) Request {
	return Request{
		RepoPath: h.repo,
		Task:     session.TaskDescriptor{ID: taskID, Title: title, Body: "details"},
		Backend:  agent.Claude,
	}
}

func (h *harness) wait(t *testing.T, id string) session.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	rec, err := h.sup.WaitFor(ctx, id)
	require.NoError(t, err)
	return rec
}

func TestDispatchRunsAgentInWorkspace(t *testing.T) {
	h := newHarness(t, `printf 'prompt: %s\n' "$2"
pwd
echo "agent edit" >> main.txt`)

	sess, err := h.sup.Dispatch(context.Background(), h.request(12, "Broken build"))
	require.NoError(t, err)
	assert.Equal(t, session.KindRunning, sess.Status.Kind)
	assert.True(t, sess.PID.Valid())
	assert.NotEqual(t, h.repo, sess.WorkspacePath)
	assert.Equal(t, "issue-12", sess.Branch)
	assert.Equal(t, "main", sess.BaseBranch)
	assert.Equal(t, "claude", sess.Backend)

	stored, err := h.st.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, stored.ID)

	done := h.wait(t, sess.ID)
	assert.Equal(t, session.Completed(0), done.Status)
	assert.Equal(t, 1, done.Stats.LinesAdded)
	assert.Equal(t, 1, done.Stats.FilesChanged)
	assert.GreaterOrEqual(t, done.Stats.OutputLines, 3)

	log, err := os.ReadFile(sess.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "prompt: Fix GitHub issue #12: Broken build")
	assert.Contains(t, string(log), sess.WorkspacePath)

	assert.Eventually(t, func() bool {
		msgs := h.notes.messages()
		return len(msgs) == 1 && msgs[0] == "Finished #12: Broken build"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDispatchTwiceConflicts(t *testing.T) {
	h := newHarness(t, "sleep 30")
	ctx := context.Background()

	first, err := h.sup.Dispatch(ctx, h.request(7, "first"))
	require.NoError(t, err)

	_, err = h.sup.Dispatch(ctx, h.request(7, "again"))
	assert.ErrorIs(t, err, session.ErrConflict)
	assert.ErrorContains(t, err, "held by session "+first.ShortID()+", running")

	sessions, err := h.st.List()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.True(t, sessions[0].IsRunning())
	assert.True(t, proc.Alive(first.PID))
	assert.DirExists(t, first.WorkspacePath)
}

func TestDispatchMissingAgentIsToolFailure(t *testing.T) {
	h := newHarness(t, "exit 0")
	h.cfg.Agents["claude"] = config.AgentConfig{Command: filepath.Join(t.TempDir(), "no-such-agent")}

	_, err := h.sup.Dispatch(context.Background(), h.request(3, "x"))
	require.Error(t, err)
	assert.True(t, session.IsToolError(err))

	sessions, err := h.st.List()
	require.NoError(t, err)
	assert.Empty(t, sessions)

	assert.NoDirExists(t, filepath.Join(h.cfg.WorktreesDir(), "demo-3"))
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", "refs/heads/issue-3")
	cmd.Dir = h.repo
	assert.Error(t, cmd.Run(), "branch should be rolled back")

	entries, _ := os.ReadDir(h.cfg.AgentsDir())
	assert.Empty(t, entries)
}

func TestDispatchAllSessionsAreIndependent(t *testing.T) {
	h := newHarness(t, `case "$2" in
*"#1:"*) n=1 ;;
*) n=3 ;;
esac
i=0
while [ $i -lt $n ]; do echo "line $i" >> main.txt; i=$((i+1)); done`)
	h.cfg.MaxParallel = 2

	results := h.sup.DispatchAll(context.Background(), []Request{
		h.request(1, "one"),
		h.request(2, "two"),
		h.request(0, "invalid"),
	})
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Error(t, results[2].Err)
	assert.NotEqual(t, results[0].Session.WorkspacePath, results[1].Session.WorkspacePath)

	one := h.wait(t, results[0].Session.ID)
	two := h.wait(t, results[1].Session.ID)
	assert.Equal(t, session.Completed(0), one.Status)
	assert.Equal(t, session.Completed(0), two.Status)
	assert.Equal(t, 1, one.Stats.LinesAdded)
	assert.Equal(t, 3, two.Stats.LinesAdded)

	sessions, err := h.st.List()
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestKillRunningSession(t *testing.T) {
	h := newHarness(t, "sleep 30")
	ctx := context.Background()

	sess, err := h.sup.Dispatch(ctx, h.request(5, "slow"))
	require.NoError(t, err)

	killed, err := h.sup.Kill(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Failed(KilledByUser), killed.Status)
	assert.False(t, killed.EndedAt.IsZero())
	assert.Eventually(t, func() bool { return !proc.Alive(sess.PID) }, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		msgs := h.notes.messages()
		return len(msgs) == 1 && msgs[0] == "Failed #5: killed by user"
	}, 5*time.Second, 20*time.Millisecond)

	again, err := h.sup.Kill(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, killed, again)
	assert.Zero(t, h.sup.Watching())
}

type slowNotifier struct {
	captured
	delay time.Duration
}

func (n *slowNotifier) Notify(ctx context.Context, title, message string) error {
	time.Sleep(n.delay)
	return n.captured.Notify(ctx, title, message)
}

func TestShutdownDeliversPendingNotifications(t *testing.T) {
	h := newHarness(t, "sleep 30")
	ctx := context.Background()
	notes := &slowNotifier{delay: 200 * time.Millisecond}
	sup := New(h.cfg, h.st, Options{Notifier: notes, KillGrace: time.Second})

	sess, err := sup.Dispatch(ctx, h.request(6, "short-lived"))
	require.NoError(t, err)
	_, err = sup.Kill(ctx, sess.ID)
	require.NoError(t, err)

	sup.Shutdown()
	assert.Equal(t, []string{"Failed #6: killed by user"}, notes.messages())
}

func TestKillUnknownSession(t *testing.T) {
	h := newHarness(t, "exit 0")
	_, err := h.sup.Kill(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestKillExitedProcessRecordsRealOutcome(t *testing.T) {
	h := newHarness(t, "exit 0")
	ws := createWorkspace(t, h, 8)

	dead := exec.Command("sh", "-c", "true")
	require.NoError(t, dead.Run())
	exitPath := h.cfg.ExitPath("gone")
	require.NoError(t, os.MkdirAll(h.cfg.AgentsDir(), 0755))
	require.NoError(t, os.WriteFile(exitPath, []byte("3\n"), 0644))

	require.NoError(t, h.st.Insert(runningRecord("gone", ws, proc.ID(dead.Process.Pid), h.cfg.LogPath("gone"), exitPath)))

	rec, err := h.sup.Kill(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, session.Completed(3), rec.Status)
}

func TestReattachObservesEarlierProcess(t *testing.T) {
	h := newHarness(t, "exit 0")
	ws := createWorkspace(t, h, 4)
	require.NoError(t, os.MkdirAll(h.cfg.AgentsDir(), 0755))

	// Started by a previous run of the program.
	logPath, exitPath := h.cfg.LogPath("earlier"), h.cfg.ExitPath("earlier")
	child, err := proc.Start(proc.Spec{
		Command:  "sh",
		Args:     []string{"-c", "echo hi; sleep 0.3; exit 2"},
		Dir:      ws.Path,
		LogPath:  logPath,
		ExitPath: exitPath,
	})
	require.NoError(t, err)
	require.NoError(t, h.st.Insert(runningRecord("earlier", ws, child.ID(), logPath, exitPath)))

	n, err := h.sup.Reattach()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = h.sup.Reattach()
	require.NoError(t, err)
	assert.Zero(t, n, "already watched")

	rec := h.wait(t, "earlier")
	assert.Equal(t, session.Completed(2), rec.Status)
	assert.Equal(t, 1, rec.Stats.OutputLines)
}

func TestShutdownLeavesAgentRunning(t *testing.T) {
	h := newHarness(t, "sleep 30")
	ctx := context.Background()

	sess, err := h.sup.Dispatch(ctx, h.request(6, "long"))
	require.NoError(t, err)
	h.sup.Shutdown()

	assert.True(t, proc.Alive(sess.PID))
	rec, err := h.st.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, rec.IsRunning())

	// A fresh supervisor picks the session up again.
	next := New(h.cfg, h.st, Options{KillGrace: time.Second})
	t.Cleanup(next.Shutdown)
	n, err := next.Reattach()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	killed, err := next.Kill(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Failed(KilledByUser), killed.Status)
	assert.Eventually(t, func() bool { return !proc.Alive(sess.PID) }, 5*time.Second, 20*time.Millisecond)
}

func TestCleanupRemovesEverything(t *testing.T) {
	h := newHarness(t, "echo done")
	ctx := context.Background()

	sess, err := h.sup.Dispatch(ctx, h.request(10, "tidy"))
	require.NoError(t, err)
	h.wait(t, sess.ID)

	removed, err := h.sup.Cleanup(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, removed.ID)

	_, err = h.st.Get(sess.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.NoDirExists(t, sess.WorkspacePath)
	assert.NoFileExists(t, sess.LogPath)
	assert.NoFileExists(t, sess.ExitPath)
}

func TestCleanupRefusesRunningUnlessForced(t *testing.T) {
	h := newHarness(t, "sleep 30")
	ctx := context.Background()

	sess, err := h.sup.Dispatch(ctx, h.request(11, "busy"))
	require.NoError(t, err)

	_, err = h.sup.Cleanup(ctx, sess.ID, false)
	assert.ErrorIs(t, err, ErrRunning)
	assert.DirExists(t, sess.WorkspacePath)

	removed, err := h.sup.Cleanup(ctx, sess.ID, true)
	require.NoError(t, err)
	assert.Equal(t, session.Failed(KilledByUser), removed.Status)
	assert.NoDirExists(t, sess.WorkspacePath)
	assert.Eventually(t, func() bool { return !proc.Alive(sess.PID) }, 5*time.Second, 20*time.Millisecond)
}

func TestPruneRemovesOnlyOldTerminalSessions(t *testing.T) {
	h := newHarness(t, `case "$2" in
*"#2:"*) sleep 30 ;;
esac`)
	ctx := context.Background()

	done, err := h.sup.Dispatch(ctx, h.request(1, "quick"))
	require.NoError(t, err)
	h.wait(t, done.ID)
	running, err := h.sup.Dispatch(ctx, h.request(2, "slow"))
	require.NoError(t, err)

	pruned, err := h.sup.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, pruned)

	pruned, err = h.sup.Prune(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.Equal(t, done.ID, pruned[0].ID)
	assert.NoDirExists(t, done.WorkspacePath)
	assert.NoFileExists(t, done.LogPath)

	rec, err := h.st.Get(running.ID)
	require.NoError(t, err)
	assert.True(t, rec.IsRunning())
}

func TestPruneOrphans(t *testing.T) {
	h := newHarness(t, "exit 0")
	ws := createWorkspace(t, h, 21)

	orphans, err := h.sup.Orphans()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, 21, orphans[0].TaskID)

	removed, err := h.sup.PruneOrphans(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.DirExists(t, ws.Path)

	removed, err = h.sup.PruneOrphans(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, removed, 1)
	assert.NoDirExists(t, ws.Path)
}

func TestStartJanitor(t *testing.T) {
	h := newHarness(t, "exit 0")
	h.cfg.PruneAfter = config.Duration{Duration: time.Nanosecond}
	ctx := context.Background()

	sess, err := h.sup.Dispatch(ctx, h.request(30, "old"))
	require.NoError(t, err)
	h.wait(t, sess.ID)

	stop, err := h.sup.StartJanitor(ctx)
	require.NoError(t, err)
	defer stop()

	assert.Eventually(t, func() bool {
		sessions, err := h.st.List()
		return err == nil && len(sessions) == 0
	}, 5*time.Second, 20*time.Millisecond)

	h.cfg.PruneSchedule = "not a schedule"
	_, err = h.sup.StartJanitor(ctx)
	assert.Error(t, err)
}

func TestCreatePullRequest(t *testing.T) {
	h := newHarness(t, `echo "fix" >> main.txt`)
	remote := filepath.Join(t.TempDir(), "remote.git")
	runGit(t, h.repo, "init", "--bare", remote)
	runGit(t, h.repo, "remote", "add", "origin", remote)

	argsFile := filepath.Join(t.TempDir(), "gh-args")
	gh := writeAgent(t, `for a in "$@"; do printf '%s\n' "$a" >> `+argsFile+`; done
echo "Creating pull request"
echo "https://github.com/acme/demo/pull/99"`)
	orig := GHCommand
	GHCommand = gh
	t.Cleanup(func() { GHCommand = orig })

	ctx := context.Background()
	sess, err := h.sup.Dispatch(ctx, h.request(9, "Crash on start"))
	require.NoError(t, err)
	h.wait(t, sess.ID)

	rec, err := h.sup.CreatePullRequest(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/demo/pull/99", rec.ResultURL)

	stored, err := h.st.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ResultURL, stored.ResultURL)

	runGit(t, h.repo, "--git-dir", remote, "rev-parse", "--verify", "refs/heads/issue-9")

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "Fix #9: Crash on start\n")
	assert.Contains(t, string(args), "--base\nmain\n")
	assert.Contains(t, string(args), "--head\nissue-9\n")
}

func TestCreatePullRequestRefusesRunning(t *testing.T) {
	h := newHarness(t, "sleep 30")
	sess, err := h.sup.Dispatch(context.Background(), h.request(13, "busy"))
	require.NoError(t, err)
	_, err = h.sup.CreatePullRequest(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrRunning)
}

func createWorkspace(t *testing.T, h *harness, taskID int) worktree.Workspace {
	t.Helper()
	mgr := worktree.NewManager(h.repo, h.cfg.WorktreesDir(), "")
	ws, err := mgr.Create(context.Background(), taskID)
	require.NoError(t, err)
	return ws
}

func runningRecord(id string, ws worktree.Workspace, pid proc.ID, logPath, exitPath string) session.Session {
	return session.Session{
		ID:            id,
		TaskID:        ws.TaskID,
		TaskTitle:     "earlier task",
		Project:       ws.Project,
		Backend:       "claude",
		CreatedAt:     time.Now().UTC(),
		Status:        session.Running(),
		PID:           pid,
		LogPath:       logPath,
		ExitPath:      exitPath,
		RepoPath:      ws.RepoPath,
		WorkspacePath: ws.Path,
		Branch:        ws.Branch,
		BaseBranch:    ws.BaseBranch,
	}
}

func initGitRepo(t *testing.T) string {
	t.Helper()
	repo := filepath.Join(t.TempDir(), "demo")
	require.NoError(t, os.MkdirAll(repo, 0755))
	runGit(t, repo, "init")
	runGit(t, repo, "checkout", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.txt"), []byte("initial\n"), 0644))
	runGit(t, repo, "add", "main.txt")
	runGit(t, repo, "-c", "user.name=Test", "-c", "user.email=test@example.com", "commit", "-m", "initial commit")
	return repo
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, string(out))
	}
}
