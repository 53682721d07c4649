package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/agusx1211/baton/internal/theme"
)

// Header styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorBase).
			Background(theme.ColorBlue).
			Padding(0, 2)

	HeaderInfoStyle = lipgloss.NewStyle().
			Foreground(theme.ColorSubtext0).
			Italic(true)
)

// Status bar
var (
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(theme.ColorSubtext0).
			Background(theme.ColorSurface0).
			Padding(0, 1)

	StatusErrorStyle = lipgloss.NewStyle().
				Foreground(theme.ColorRed).
				Background(theme.ColorSurface0).
				Bold(true).
				Padding(0, 1)

	ConfirmStyle = lipgloss.NewStyle().
			Foreground(theme.ColorBase).
			Background(theme.ColorPeach).
			Bold(true).
			Padding(0, 1)
)

// Table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorMauve)

	TableSelectedRowStyle = lipgloss.NewStyle().
				Background(theme.ColorSurface1).
				Foreground(theme.ColorText).
				Bold(true)

	BackendStyle = lipgloss.NewStyle().Foreground(theme.ColorTeal).Bold(true)
	AddedStyle   = lipgloss.NewStyle().Foreground(theme.ColorGreen)
	RemovedStyle = lipgloss.NewStyle().Foreground(theme.ColorRed)
	DimStyle     = lipgloss.NewStyle().Foreground(theme.ColorOverlay0)
)

// Detail view styles
var (
	DetailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorBlue).
				MarginBottom(1)

	DetailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorMauve).
				Width(14)

	DetailValueStyle = lipgloss.NewStyle().
				Foreground(theme.ColorText)

	DividerStyle = lipgloss.NewStyle().
			Foreground(theme.ColorSurface2)

	EmptyStateStyle = lipgloss.NewStyle().
			Foreground(theme.ColorOverlay0).
			Italic(true).
			Padding(1, 2)
)
