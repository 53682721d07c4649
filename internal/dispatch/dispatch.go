// Package dispatch is the process supervisor. It turns a task into an
// isolated workspace plus a running agent process, records the session,
// and keeps one monitor per running session until it ends.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agusx1211/baton/internal/agent"
	"github.com/agusx1211/baton/internal/config"
	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/metrics"
	"github.com/agusx1211/baton/internal/monitor"
	"github.com/agusx1211/baton/internal/notify"
	"github.com/agusx1211/baton/internal/proc"
	"github.com/agusx1211/baton/internal/session"
	"github.com/agusx1211/baton/internal/store"
	"github.com/agusx1211/baton/internal/worktree"
)

// KilledByUser is the failure cause recorded by Kill.
const KilledByUser = "killed by user"

// DefaultKillGrace is how long Kill waits after SIGTERM before SIGKILL.
const DefaultKillGrace = 5 * time.Second

// DefaultNotifyWait bounds how long Shutdown waits for alerts in flight.
const DefaultNotifyWait = 3 * time.Second

// Request is one task to delegate.
type Request struct {
	RepoPath     string
	Task         session.TaskDescriptor
	Backend      agent.Backend // empty selects the configured default
	Instructions string
}

// Result is the outcome of one request in DispatchAll.
type Result struct {
	Request Request
	Session session.Session
	Err     error
}

// Options tune a Supervisor. Zero values pick defaults.
type Options struct {
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
	KillGrace  time.Duration
	NotifyWait time.Duration
	Now        func() time.Time
}

// Supervisor dispatches sessions and owns their monitors.
type Supervisor struct {
	cfg     *config.Config
	store   *store.Store
	opts    Options
	pending *notify.Queue

	mu      sync.Mutex
	watched map[string]*watch
	repos   map[string]*sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

type watch struct {
	handle *proc.Handle
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a supervisor backed by st.
func New(cfg *config.Config, st *store.Store, opts Options) *Supervisor {
	pending, ok := opts.Notifier.(*notify.Queue)
	if !ok {
		pending = notify.NewQueue(opts.Notifier)
	}
	opts.Notifier = pending
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.NotifyWait <= 0 {
		opts.NotifyWait = DefaultNotifyWait
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Supervisor{
		cfg:     cfg,
		store:   st,
		opts:    opts,
		pending: pending,
		watched: make(map[string]*watch),
		repos:   make(map[string]*sync.Mutex),
	}
}

// Store returns the session store.
func (s *Supervisor) Store() *store.Store { return s.store }

// Dispatch creates the task's workspace, starts the agent in it and records
// a Running session. It returns as soon as the process exists. On any error
// nothing is recorded and the workspace is rolled back.
func (s *Supervisor) Dispatch(ctx context.Context, req Request) (session.Session, error) {
	backend := req.Backend
	if backend == "" {
		b, err := agent.ParseBackend(s.cfg.Agent)
		if err != nil {
			return session.Session{}, err
		}
		backend = b
	}
	debug.LogKV("dispatch", "Dispatch()", "repo", req.RepoPath, "task", req.Task.ID, "backend", backend)

	sess, err := s.dispatch(ctx, req, backend)
	if err != nil {
		s.opts.Metrics.DispatchFailed(string(backend))
		debug.LogKV("dispatch", "dispatch failed", "task", req.Task.ID, "backend", backend, "error", err)
		return session.Session{}, err
	}
	s.opts.Metrics.Dispatched(string(backend))
	return sess, nil
}

func (s *Supervisor) dispatch(ctx context.Context, req Request, backend agent.Backend) (session.Session, error) {
	repoRoot, err := worktree.Toplevel(ctx, req.RepoPath)
	if err != nil {
		return session.Session{}, err
	}
	mgr := worktree.NewManager(repoRoot, s.cfg.WorktreesDir(), s.cfg.BaseBranch)

	// git takes repository-wide locks while adding branches and worktrees.
	unlock := s.lockRepo(repoRoot)
	ws, err := mgr.Create(ctx, req.Task.ID)
	unlock()
	if err != nil {
		return session.Session{}, s.explainConflict(err, repoRoot, req.Task.ID)
	}
	rollback := func() {
		unlock := s.lockRepo(repoRoot)
		defer unlock()
		if err := mgr.Remove(context.WithoutCancel(ctx), ws, true); err != nil {
			debug.LogKV("dispatch", "workspace rollback failed", "path", ws.Path, "error", err)
		}
	}

	inv, err := s.cfg.Adapter(backend).BuildInvocation(agent.BuildPrompt(req.Task, req.Instructions), ws.Path)
	if err != nil {
		rollback()
		return session.Session{}, err
	}

	id := uuid.NewString()
	if err := os.MkdirAll(s.cfg.AgentsDir(), 0755); err != nil {
		rollback()
		return session.Session{}, fmt.Errorf("creating agents dir: %w", err)
	}
	logPath, exitPath := s.cfg.LogPath(id), s.cfg.ExitPath(id)

	h, err := proc.Start(proc.Spec{
		Command:  inv.Command,
		Args:     inv.Args,
		Dir:      inv.Dir,
		Env:      append(os.Environ(), inv.Env...),
		LogPath:  logPath,
		ExitPath: exitPath,
	})
	if err != nil {
		rollback()
		removeArtifacts(logPath, exitPath)
		return session.Session{}, &session.ToolError{Tool: inv.Command, Err: err}
	}

	sess := session.Session{
		ID:            id,
		TaskID:        req.Task.ID,
		TaskTitle:     req.Task.Title,
		Project:       ws.Project,
		Backend:       string(backend),
		CreatedAt:     s.opts.Now().UTC(),
		Status:        session.Running(),
		PID:           h.ID(),
		LogPath:       logPath,
		ExitPath:      exitPath,
		RepoPath:      repoRoot,
		WorkspacePath: ws.Path,
		Branch:        ws.Branch,
		BaseBranch:    ws.BaseBranch,
	}
	if err := s.store.Insert(sess); err != nil {
		_ = h.Terminate(s.opts.KillGrace)
		rollback()
		removeArtifacts(logPath, exitPath)
		return session.Session{}, fmt.Errorf("recording session: %w", err)
	}

	debug.LogKV("dispatch", "dispatched", "session", id, "pid", h.ID(), "workspace", ws.Path)
	s.watch(id, h)
	return sess, nil
}

// DispatchAll dispatches every request concurrently, at most max_parallel at
// a time when configured. Results are in request order; one failure never
// affects the others.
func (s *Supervisor) DispatchAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var g errgroup.Group
	if s.cfg.MaxParallel > 0 {
		g.SetLimit(s.cfg.MaxParallel)
	}
	for i, req := range reqs {
		g.Go(func() error {
			sess, err := s.Dispatch(ctx, req)
			results[i] = Result{Request: req, Session: sess, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// explainConflict names the sessions already holding the task's workspace.
func (s *Supervisor) explainConflict(err error, repoRoot string, taskID int) error {
	if !errors.Is(err, session.ErrConflict) {
		return err
	}
	holders, ferr := s.store.FindByTask(worktree.ProjectName(repoRoot), taskID)
	if ferr != nil || len(holders) == 0 {
		return err
	}
	last := holders[len(holders)-1]
	return fmt.Errorf("%w (held by session %s, %s; remove it first)", err, last.ShortID(), last.Status)
}

func (s *Supervisor) lockRepo(root string) func() {
	s.mu.Lock()
	m, ok := s.repos[root]
	if !ok {
		m = &sync.Mutex{}
		s.repos[root] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Supervisor) monitorOptions() monitor.Options {
	return monitor.Options{
		Interval: s.cfg.PollInterval.Duration,
		Notifier: s.opts.Notifier,
		Metrics:  s.opts.Metrics,
		Now:      s.opts.Now,
	}
}

// watch starts the monitor for id unless one is already running.
func (s *Supervisor) watch(id string, h *proc.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.watched[id]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{handle: h, cancel: cancel, done: make(chan struct{})}
	s.watched[id] = w

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(w.done)
		defer cancel()
		_ = monitor.New(s.store, id, h, s.monitorOptions()).Run(ctx)
		s.mu.Lock()
		if s.watched[id] == w {
			delete(s.watched, id)
		}
		s.mu.Unlock()
	}()
	return true
}

// unwatch cancels the monitor for id, waits for it to stop and returns its
// handle. It returns nil when id is not watched here.
func (s *Supervisor) unwatch(id string) *proc.Handle {
	s.mu.Lock()
	w, ok := s.watched[id]
	if ok {
		delete(s.watched, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	w.cancel()
	<-w.done
	return w.handle
}

// Watching reports how many sessions have a monitor in this process.
func (s *Supervisor) Watching() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watched)
}

// Reattach starts monitors for Running records that have none in this
// process, probing their recorded process ids. It returns how many were
// attached.
func (s *Supervisor) Reattach() (int, error) {
	sessions, err := s.store.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range sessions {
		if !rec.IsRunning() {
			continue
		}
		if s.watch(rec.ID, proc.Attach(rec.PID, rec.ExitPath)) {
			n++
			debug.LogKV("dispatch", "reattached", "session", rec.ID, "pid", rec.PID)
		}
	}
	return n, nil
}

// WaitFor blocks until the monitor for id finishes, then returns the record.
func (s *Supervisor) WaitFor(ctx context.Context, id string) (session.Session, error) {
	s.mu.Lock()
	w, ok := s.watched[id]
	s.mu.Unlock()
	if ok {
		select {
		case <-w.done:
		case <-ctx.Done():
			return session.Session{}, ctx.Err()
		}
	}
	return s.store.Get(id)
}

// Shutdown stops every monitor and waits for them, then gives alerts still
// being delivered up to NotifyWait to finish. Agent processes keep running
// and can be reattached later.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for _, w := range s.watched {
		w.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.pending.Wait(s.opts.NotifyWait)
	debug.LogKV("dispatch", "shutdown complete")
}

// Kill terminates the session's process and records Failed{"killed by
// user"}. Killing a terminal session is a no-op that returns the record
// unchanged. A process found already exited is recorded with its real
// outcome instead.
func (s *Supervisor) Kill(ctx context.Context, id string) (session.Session, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return session.Session{}, err
	}
	if rec.IsTerminal() {
		return rec, nil
	}
	debug.LogKV("dispatch", "Kill()", "session", id, "pid", rec.PID)

	h := s.unwatch(id)
	if h == nil {
		h = proc.Attach(rec.PID, rec.ExitPath)
	}

	if rec.PID.Valid() && !h.IsAlive() {
		if _, err := monitor.New(s.store, id, h, s.monitorOptions()).Tick(ctx); err != nil {
			return session.Session{}, err
		}
		return s.store.Get(id)
	}

	if rec.PID.Valid() {
		if err := h.Terminate(s.opts.KillGrace); err != nil {
			s.watch(id, h)
			return session.Session{}, err
		}
	}

	updated, err := s.store.Update(id, func(cur *session.Session) error {
		return cur.Transition(session.Failed(KilledByUser), s.opts.Now())
	})
	if errors.Is(err, session.ErrTerminal) {
		return s.store.Get(id)
	}
	if err != nil {
		return session.Session{}, err
	}
	s.opts.Metrics.Terminal(string(updated.Status.Kind))
	notify.Session(s.opts.Notifier, updated)
	return updated, nil
}

func workspaceOf(rec session.Session) worktree.Workspace {
	return worktree.Workspace{
		Path:       rec.WorkspacePath,
		Branch:     rec.Branch,
		BaseBranch: rec.BaseBranch,
		RepoPath:   rec.RepoPath,
		Project:    rec.Project,
		TaskID:     rec.TaskID,
	}
}

func removeArtifacts(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
