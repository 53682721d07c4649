// Package session defines the durable record of one task delegated to one
// agent backend, its lifecycle status and progress statistics.
package session

import (
	"fmt"
	"time"

	"github.com/agusx1211/baton/internal/proc"
)

// TaskDescriptor is the tracker item a session works on. The issue-tracker
// client fills it in; this package only consumes it.
type TaskDescriptor struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`

	// Kind names the tracker item in prompts, e.g. "GitHub issue".
	Kind string `json:"kind,omitempty"`
}

// Stats are the progress counters sampled by the monitor.
type Stats struct {
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
	FilesChanged int `json:"files_changed"`
	OutputLines  int `json:"output_lines"`
}

// Session is one delegation of one task to one agent backend.
type Session struct {
	ID        string    `json:"id"`
	TaskID    int       `json:"task_id"`
	TaskTitle string    `json:"task_title"`
	Project   string    `json:"project"`
	Backend   string    `json:"backend"`
	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Status    Status    `json:"status"`

	// PID is only meaningful while Status is Running.
	PID proc.ID `json:"pid"`

	LogPath  string `json:"log_path"`
	ExitPath string `json:"exit_path,omitempty"`

	RepoPath      string `json:"repo_path"`
	WorkspacePath string `json:"workspace_path"`
	Branch        string `json:"branch"`
	BaseBranch    string `json:"base_branch,omitempty"`

	Stats     Stats  `json:"stats"`
	ResultURL string `json:"result_url,omitempty"`
}

// IsRunning reports whether the session has not reached a terminal state.
func (s *Session) IsRunning() bool {
	return s.Status.Kind == KindRunning
}

// IsTerminal reports whether the session is Completed or Failed.
func (s *Session) IsTerminal() bool {
	return s.Status.Terminal()
}

// Transition moves the session to next. Any transition out of a terminal
// state fails with ErrTerminal, so a session ends at most once.
func (s *Session) Transition(next Status, at time.Time) error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: session %s is already %s", ErrTerminal, s.ID, s.Status)
	}
	if !next.Terminal() {
		return nil
	}
	s.Status = next
	s.EndedAt = at.UTC()
	return nil
}

// ApplyStats records a fresh sample. Diff counters are replaced (they
// describe the workspace as it is now), the output line count never
// decreases, and nothing changes once the session is terminal.
func (s *Session) ApplyStats(sample Stats) {
	if s.Status.Terminal() {
		return
	}
	output := s.Stats.OutputLines
	if sample.OutputLines > output {
		output = sample.OutputLines
	}
	s.Stats = Stats{
		LinesAdded:   sample.LinesAdded,
		LinesRemoved: sample.LinesRemoved,
		FilesChanged: sample.FilesChanged,
		OutputLines:  output,
	}
}

// ApplyOutputLines updates only the output line count, used when the diff
// sample could not be taken.
func (s *Session) ApplyOutputLines(n int) {
	if s.Status.Terminal() || n <= s.Stats.OutputLines {
		return
	}
	s.Stats.OutputLines = n
}

// Duration returns how long the session ran, or has been running as of now.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.Status.Terminal() && !s.EndedAt.IsZero() {
		end = s.EndedAt
	}
	if end.Before(s.CreatedAt) {
		return 0
	}
	return end.Sub(s.CreatedAt)
}

// TerminalAt is the instant used for age-based pruning.
func (s *Session) TerminalAt() time.Time {
	if !s.EndedAt.IsZero() {
		return s.EndedAt
	}
	return s.CreatedAt
}

// ShortID returns the first eight characters of the id for display.
func (s *Session) ShortID() string {
	if len(s.ID) <= 8 {
		return s.ID
	}
	return s.ID[:8]
}

// FormatDuration renders d as "42s", "3m 5s" or "2h 10m".
func FormatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}
