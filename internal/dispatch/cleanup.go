package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/session"
	"github.com/agusx1211/baton/internal/worktree"
)

// ErrRunning is returned by Cleanup for a session that is still running.
var ErrRunning = errors.New("session is still running")

// Cleanup removes a session's workspace, branch and artifacts, then its
// record. Running sessions are refused unless force is set, in which case
// they are killed first. Without force an unmerged branch or a dirty
// workspace is also refused and the record is kept.
func (s *Supervisor) Cleanup(ctx context.Context, id string, force bool) (session.Session, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return session.Session{}, err
	}
	debug.LogKV("dispatch", "Cleanup()", "session", id, "force", force)
	if rec.IsRunning() {
		if !force {
			return session.Session{}, fmt.Errorf("%w: %s (kill it first or force)", ErrRunning, rec.ShortID())
		}
		killed, err := s.Kill(ctx, id)
		if err != nil {
			return session.Session{}, fmt.Errorf("killing %s: %w", rec.ShortID(), err)
		}
		rec = killed
	}
	if err := s.removeWorkspace(ctx, rec, force); err != nil {
		return session.Session{}, err
	}
	if err := removeArtifacts(rec.LogPath, rec.ExitPath); err != nil {
		return session.Session{}, err
	}
	return s.store.Remove(id)
}

func (s *Supervisor) removeWorkspace(ctx context.Context, rec session.Session, force bool) error {
	if rec.WorkspacePath == "" || rec.RepoPath == "" {
		return nil
	}
	unlock := s.lockRepo(rec.RepoPath)
	defer unlock()
	mgr := worktree.NewManager(rec.RepoPath, s.cfg.WorktreesDir(), rec.BaseBranch)
	return mgr.Remove(ctx, workspaceOf(rec), force)
}

// Prune removes terminal sessions that ended more than olderThan ago and
// discards their workspaces and artifacts. Records are removed even if a
// workspace cannot be; such directories later show up as orphans.
func (s *Supervisor) Prune(ctx context.Context, olderThan time.Duration) ([]session.Session, error) {
	pruned, err := s.store.PruneOlderThan(olderThan)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, rec := range pruned {
		if err := s.removeWorkspace(ctx, rec, true); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", rec.ShortID(), err))
		}
		if err := removeArtifacts(rec.LogPath, rec.ExitPath); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", rec.ShortID(), err))
		}
	}
	s.opts.Metrics.Pruned(len(pruned))
	return pruned, errors.Join(errs...)
}

// Orphans lists workspace directories that no session record owns.
func (s *Supervisor) Orphans() ([]worktree.Entry, error) {
	sessions, err := s.store.List()
	if err != nil {
		return nil, err
	}
	return worktree.ListOrphans(s.cfg.WorktreesDir(), sessions)
}

// PruneOrphans removes orphaned workspaces last modified more than maxAge
// ago. A zero maxAge removes every orphan.
func (s *Supervisor) PruneOrphans(ctx context.Context, maxAge time.Duration) ([]worktree.Entry, error) {
	orphans, err := s.Orphans()
	if err != nil {
		return nil, err
	}
	cutoff := s.opts.Now().Add(-maxAge)
	var removed []worktree.Entry
	var errs []error
	for _, e := range orphans {
		if maxAge > 0 && !e.ModTime.Before(cutoff) {
			continue
		}
		if err := worktree.RemoveEntry(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
			continue
		}
		removed = append(removed, e)
	}
	return removed, errors.Join(errs...)
}

// RunJanitor prunes sessions and orphaned workspaces older than the
// configured prune_after.
func (s *Supervisor) RunJanitor(ctx context.Context) {
	age := s.cfg.PruneAfter.Duration
	pruned, err := s.Prune(ctx, age)
	if err != nil {
		debug.LogKV("janitor", "prune failed", "error", err)
	}
	orphans, err := s.PruneOrphans(ctx, age)
	if err != nil {
		debug.LogKV("janitor", "orphan prune failed", "error", err)
	}
	debug.LogKV("janitor", "run complete", "sessions", len(pruned), "orphans", len(orphans))
}

// StartJanitor runs the janitor once now and then on prune_schedule until
// the returned stop function is called.
func (s *Supervisor) StartJanitor(ctx context.Context) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.PruneSchedule, func() { s.RunJanitor(ctx) }); err != nil {
		return nil, fmt.Errorf("prune_schedule %q: %w", s.cfg.PruneSchedule, err)
	}
	go s.RunJanitor(ctx)
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
