// Package tui is the interactive session dashboard.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/agusx1211/baton/internal/session"
)

// Lister reads the current sessions.
type Lister interface {
	List() ([]session.Session, error)
}

// Killer stops a running session.
type Killer interface {
	Kill(ctx context.Context, id string) (session.Session, error)
}

const killTimeout = 30 * time.Second

type sessionsLoadedMsg struct {
	sessions []session.Session
	err      error
}

type storeChangedMsg struct{}

type clockMsg time.Time

type killDoneMsg struct {
	rec session.Session
	err error
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	sessions Lister
	killer   Killer
	changes  <-chan struct{}

	keys   KeyMap
	help   help.Model
	width  int
	height int

	rows       []session.Session // newest first
	selected   int
	detail     bool
	confirming string // id awaiting kill confirmation
	status     string
	err        error
	now        func() time.Time
}

// NewModel returns a dashboard over list. killer may be nil for a
// read-only view; changes, when non-nil, triggers reloads.
func NewModel(list Lister, killer Killer, changes <-chan struct{}) Model {
	return Model{
		sessions: list,
		killer:   killer,
		changes:  changes,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		now:      time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.waitForChange(), clock())
}

func (m Model) load() tea.Cmd {
	return func() tea.Msg {
		sessions, err := m.sessions.List()
		return sessionsLoadedMsg{sessions: sessions, err: err}
	}
}

func (m Model) waitForChange() tea.Cmd {
	ch := m.changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func clock() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func (m Model) kill(id string) tea.Cmd {
	killer := m.killer
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
		defer cancel()
		rec, err := killer.Kill(ctx, id)
		return killDoneMsg{rec: rec, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case sessionsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.setRows(msg.sessions)
		return m, nil

	case storeChangedMsg:
		return m, tea.Batch(m.load(), m.waitForChange())

	case clockMsg:
		return m, clock()

	case killDoneMsg:
		if msg.err != nil {
			m.status = ""
			m.err = fmt.Errorf("kill: %w", msg.err)
		} else {
			m.err = nil
			m.status = fmt.Sprintf("%s: %s", msg.rec.ShortID(), msg.rec.Status)
		}
		return m, m.load()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirming != "" {
		id := m.confirming
		m.confirming = ""
		if key.Matches(msg, m.keys.Confirm) {
			m.status = "killing " + shortID(id) + "..."
			return m, m.kill(id)
		}
		m.status = "kill cancelled"
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
	case key.Matches(msg, m.keys.Enter):
		m.detail = len(m.rows) > 0
	case key.Matches(msg, m.keys.Escape):
		m.detail = false
	case key.Matches(msg, m.keys.Refresh):
		return m, m.load()
	case key.Matches(msg, m.keys.Kill):
		rec, ok := m.current()
		switch {
		case !ok:
		case m.killer == nil:
			m.status = "read-only dashboard"
		case !rec.IsRunning():
			m.status = rec.ShortID() + " is not running"
		default:
			m.confirming = rec.ID
		}
	}
	return m, nil
}

// setRows replaces the table, keeping the selection on the same session.
func (m *Model) setRows(sessions []session.Session) {
	var selectedID string
	if rec, ok := m.current(); ok {
		selectedID = rec.ID
	}
	rows := make([]session.Session, len(sessions))
	for i, s := range sessions {
		rows[len(sessions)-1-i] = s
	}
	m.rows = rows
	m.selected = 0
	for i, s := range rows {
		if s.ID == selectedID {
			m.selected = i
			break
		}
	}
	if len(rows) == 0 {
		m.detail = false
	}
}

func (m Model) current() (session.Session, bool) {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return session.Session{}, false
	}
	return m.rows[m.selected], true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
