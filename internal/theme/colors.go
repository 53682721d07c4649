// Package theme holds the color palette shared by the dashboard and the
// styled CLI output.
package theme

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/agusx1211/baton/internal/session"
)

// Color palette - dark theme inspired by Catppuccin Mocha
var (
	ColorBase     = lipgloss.Color("#1e1e2e")
	ColorSurface0 = lipgloss.Color("#313244")
	ColorSurface1 = lipgloss.Color("#45475a")
	ColorSurface2 = lipgloss.Color("#585b70")
	ColorOverlay0 = lipgloss.Color("#6c7086")
	ColorText     = lipgloss.Color("#cdd6f4")
	ColorSubtext0 = lipgloss.Color("#a6adc8")
	ColorSubtext1 = lipgloss.Color("#bac2de")

	ColorRed      = lipgloss.Color("#f38ba8")
	ColorGreen    = lipgloss.Color("#a6e3a1")
	ColorYellow   = lipgloss.Color("#f9e2af")
	ColorBlue     = lipgloss.Color("#89b4fa")
	ColorMauve    = lipgloss.Color("#cba6f7")
	ColorTeal     = lipgloss.Color("#94e2d5")
	ColorPeach    = lipgloss.Color("#fab387")
	ColorLavender = lipgloss.Color("#b4befe")
)

// Status styles
var (
	StatusRunning   = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	StatusSucceeded = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	StatusExited    = lipgloss.NewStyle().Foreground(ColorPeach).Bold(true)
	StatusFailed    = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
)

// StatusStyle picks the style for a session status: yellow while running,
// green for exit 0, peach for a non-zero exit and red for failures.
func StatusStyle(st session.Status) lipgloss.Style {
	switch {
	case st.Kind == session.KindRunning:
		return StatusRunning
	case st.Succeeded():
		return StatusSucceeded
	case st.Kind == session.KindCompleted:
		return StatusExited
	default:
		return StatusFailed
	}
}

// StatusLabel is the short status text used in tables.
func StatusLabel(st session.Status) string {
	switch st.Kind {
	case session.KindRunning:
		return "running"
	case session.KindCompleted:
		if st.ExitCode == 0 {
			return "done"
		}
		return "exit " + strconv.Itoa(st.ExitCode)
	case session.KindFailed:
		return "failed"
	default:
		return string(st.Kind)
	}
}

