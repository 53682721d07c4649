// Package monitor watches one running session: it samples the process, its
// log and its workspace diff on a fixed interval, persists each sample, and
// records the terminal status exactly once.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/metrics"
	"github.com/agusx1211/baton/internal/notify"
	"github.com/agusx1211/baton/internal/proc"
	"github.com/agusx1211/baton/internal/session"
	"github.com/agusx1211/baton/internal/store"
	"github.com/agusx1211/baton/internal/worktree"
)

// DefaultInterval is the sampling cadence.
const DefaultInterval = 5 * time.Second

// UnobservedExit is the failure cause for a process that ended while nothing
// recorded its exit code.
const UnobservedExit = "process exited while unobserved; exit status unavailable"

// Options configure a monitor. Zero values pick defaults.
type Options struct {
	Interval time.Duration
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Notifier == nil {
		o.Notifier = notify.Nop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Monitor samples one session.
type Monitor struct {
	store  *store.Store
	id     string
	handle *proc.Handle
	opts   Options
}

// New returns a monitor for session id whose process is h.
func New(st *store.Store, id string, h *proc.Handle, opts Options) *Monitor {
	return &Monitor{store: st, id: id, handle: h, opts: opts.withDefaults()}
}

// errStop ends the loop without touching the record.
var errStop = errors.New("stop monitoring")

// Run ticks until the session is terminal, removed, or ctx is cancelled.
// Cancelling ctx only stops observation; the process keeps running.
// The first sample is taken one interval after start, or as soon as an
// owned process exits.
func (m *Monitor) Run(ctx context.Context) error {
	m.opts.Metrics.MonitorStarted()
	defer m.opts.Metrics.MonitorStopped()
	debug.LogKV("monitor", "started", "session", m.id, "pid", m.handle.ID(), "interval", m.opts.Interval)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	exited := m.handle.Done()

	for {
		select {
		case <-ctx.Done():
			debug.LogKV("monitor", "cancelled", "session", m.id)
			return ctx.Err()
		case <-ticker.C:
		case <-exited:
			// Closed channels stay ready; the tick below ends the loop.
			exited = nil
		}
		done, err := m.Tick(ctx)
		if err != nil {
			debug.LogKV("monitor", "tick failed", "session", m.id, "error", err)
		}
		if done {
			debug.LogKV("monitor", "finished", "session", m.id)
			return nil
		}
	}
}

type sample struct {
	exited  bool
	status  session.Status
	lines   int
	linesOK bool
	diff    worktree.DiffStat
	diffErr error
}

// Tick takes one sample and persists it. done reports that monitoring
// should stop. err describes a failed persist; the next tick retries.
func (m *Monitor) Tick(ctx context.Context) (done bool, err error) {
	m.opts.Metrics.Tick()

	rec, err := m.store.Get(m.id)
	if errors.Is(err, session.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if rec.IsTerminal() {
		return true, nil
	}

	// Process I/O happens outside the store lock.
	s := m.observe(ctx, rec)

	updated, err := m.store.Update(m.id, func(cur *session.Session) error {
		if cur.IsTerminal() {
			return errStop
		}
		if s.diffErr == nil {
			cur.ApplyStats(session.Stats{
				LinesAdded:   s.diff.LinesAdded,
				LinesRemoved: s.diff.LinesRemoved,
				FilesChanged: s.diff.FilesChanged,
				OutputLines:  s.lines,
			})
		} else if s.linesOK {
			cur.ApplyOutputLines(s.lines)
		}
		if s.exited {
			return cur.Transition(s.status, m.opts.Now())
		}
		return nil
	})
	switch {
	case errors.Is(err, errStop), errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrTerminal):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("persisting sample for %s: %w", m.id, err)
	}

	if s.exited {
		debug.LogKV("monitor", "terminal", "session", m.id, "status", updated.Status.String())
		m.opts.Metrics.Terminal(string(updated.Status.Kind))
		notify.Session(m.opts.Notifier, updated)
		return true, nil
	}
	return false, nil
}

func (m *Monitor) observe(ctx context.Context, rec session.Session) sample {
	var s sample

	exit, exited, exitErr := m.handle.ExitStatus()
	if exited {
		s.exited = true
		s.status = statusFromExit(exit, exitErr)
	}

	if n, err := CountLines(rec.LogPath); err == nil {
		s.lines, s.linesOK = n, true
	} else {
		debug.LogKV("monitor", "log unreadable", "session", m.id, "path", rec.LogPath, "error", err)
	}

	s.diff, s.diffErr = worktree.DiffStats(ctx, rec.WorkspacePath, rec.BaseBranch)
	if s.diffErr != nil {
		s.diffErr = fmt.Errorf("%w: %v", session.ErrTransientObservation, s.diffErr)
		m.opts.Metrics.ObservationFailed()
		debug.LogKV("monitor", "diff stats unavailable, retrying next tick", "session", m.id, "error", s.diffErr)
	}
	return s
}

func statusFromExit(exit proc.Exit, err error) session.Status {
	switch {
	case errors.Is(err, proc.ErrExitUnknown):
		return session.Failed(UnobservedExit)
	case err != nil:
		return session.Failed(fmt.Sprintf("observing process: %v", err))
	case exit.Signal != "":
		return session.Failed("terminated by signal: " + exit.Signal)
	default:
		return session.Completed(exit.Code)
	}
}
