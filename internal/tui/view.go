package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/agusx1211/baton/internal/session"
	"github.com/agusx1211/baton/internal/theme"
)

const titleWidth = 32

func (m Model) View() string {
	width := m.width
	if width < 40 {
		width = 100
	}

	sections := []string{m.header(width)}
	if m.detail {
		if rec, ok := m.current(); ok {
			sections = append(sections, m.detailView(rec, width))
		}
	} else {
		sections = append(sections, m.table(width))
	}
	sections = append(sections, "", m.statusLine(width), m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) header(width int) string {
	running := 0
	for _, s := range m.rows {
		if s.IsRunning() {
			running++
		}
	}
	info := HeaderInfoStyle.Render(fmt.Sprintf("  %d sessions, %d running", len(m.rows), running))
	return ansi.Truncate(HeaderStyle.Render("baton")+info, width, "…") + "\n"
}

func (m Model) table(width int) string {
	if len(m.rows) == 0 {
		return EmptyStateStyle.Render("No sessions yet. Start one with `baton dispatch`.")
	}

	hdr := fmt.Sprintf("  %s  %s  %s  %s  %s  %s  %s  %s",
		pad("ID", 8), pad("Task", titleWidth), pad("Agent", 8), pad("Status", 8),
		pad("Time", 8), pad("+/-", 11), pad("Files", 5), "Output")
	lines := []string{
		ansi.Truncate(TableHeaderStyle.Render(hdr), width, ""),
		DividerStyle.Render(strings.Repeat("─", max(width-2, 0))),
	}

	maxVisible := m.height - 10
	if maxVisible < 5 {
		maxVisible = 5
	}
	start := 0
	if m.selected >= maxVisible {
		start = m.selected - maxVisible + 1
	}
	end := min(start+maxVisible, len(m.rows))

	now := m.now()
	for i := start; i < end; i++ {
		line := m.row(m.rows[i], now)
		line = ansi.Truncate(line, width-2, "…")
		if i == m.selected {
			line = TableSelectedRowStyle.Width(width - 2).Render(ansi.Strip(line))
		}
		lines = append(lines, line)
	}
	if len(m.rows) > maxVisible {
		lines = append(lines, "", DimStyle.Render(fmt.Sprintf("  showing %d-%d of %d", start+1, end, len(m.rows))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) row(s session.Session, now time.Time) string {
	task := ansi.Truncate(fmt.Sprintf("#%d %s", s.TaskID, s.TaskTitle), titleWidth, "…")
	diff := AddedStyle.Render(fmt.Sprintf("+%d", s.Stats.LinesAdded)) + "/" +
		RemovedStyle.Render(fmt.Sprintf("-%d", s.Stats.LinesRemoved))
	return fmt.Sprintf("  %s  %s  %s  %s  %s  %s  %s  %d",
		DimStyle.Render(pad(s.ShortID(), 8)),
		pad(task, titleWidth),
		BackendStyle.Render(pad(s.Backend, 8)),
		theme.StatusStyle(s.Status).Render(pad(theme.StatusLabel(s.Status), 8)),
		pad(session.FormatDuration(s.Duration(now)), 8),
		pad(diff, 11),
		pad(fmt.Sprintf("%d", s.Stats.FilesChanged), 5),
		s.Stats.OutputLines,
	)
}

func (m Model) detailView(s session.Session, width int) string {
	field := func(label, value string) string {
		if value == "" {
			value = "-"
		}
		return DetailLabelStyle.Render(label) + DetailValueStyle.Render(ansi.Truncate(value, max(width-16, 10), "…"))
	}
	pid := "-"
	if s.PID.Valid() {
		pid = s.PID.String()
	}
	lines := []string{
		DetailTitleStyle.Render(ansi.Truncate(fmt.Sprintf("#%d %s", s.TaskID, s.TaskTitle), width, "…")),
		field("Session", s.ID),
		field("Status", theme.StatusStyle(s.Status).Render(s.Status.String())),
		field("Agent", s.Backend),
		field("Project", s.Project),
		field("PID", pid),
		field("Started", s.CreatedAt.Local().Format("2006-01-02 15:04:05")),
		field("Duration", session.FormatDuration(s.Duration(m.now()))),
		field("Diff", fmt.Sprintf("+%d -%d in %d files", s.Stats.LinesAdded, s.Stats.LinesRemoved, s.Stats.FilesChanged)),
		field("Output", fmt.Sprintf("%d lines", s.Stats.OutputLines)),
		field("Workspace", s.WorkspacePath),
		field("Branch", s.Branch+" (from "+s.BaseBranch+")"),
		field("Log", s.LogPath),
		field("Result", s.ResultURL),
		"",
		DimStyle.Render("Press ESC to go back"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) statusLine(width int) string {
	switch {
	case m.confirming != "":
		return ConfirmStyle.Render(fmt.Sprintf("Kill session %s? (y/N)", shortID(m.confirming)))
	case m.err != nil:
		return StatusErrorStyle.Render(ansi.Truncate(m.err.Error(), max(width-2, 10), "…"))
	case m.status != "":
		return StatusBarStyle.Render(ansi.Truncate(m.status, max(width-2, 10), "…"))
	}
	return ""
}

// pad right-pads s to w display cells.
func pad(s string, w int) string {
	if n := ansi.StringWidth(s); n < w {
		return s + strings.Repeat(" ", w-n)
	}
	return s
}
