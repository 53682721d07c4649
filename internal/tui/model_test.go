package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agusx1211/baton/internal/session"
)

type fakeLister struct {
	sessions []session.Session
	err      error
}

func (f *fakeLister) List() ([]session.Session, error) { return f.sessions, f.err }

type fakeKiller struct {
	killed []string
}

func (f *fakeKiller) Kill(_ context.Context, id string) (session.Session, error) {
	f.killed = append(f.killed, id)
	return session.Session{ID: id, Status: session.Failed("killed by user")}, nil
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSessions() []session.Session {
	return []session.Session{
		{
			ID: "aaaaaaaa-1111", TaskID: 1, TaskTitle: "Fix login", Backend: "claude",
			CreatedAt: base, EndedAt: base.Add(90 * time.Second), Status: session.Completed(0),
			Stats: session.Stats{LinesAdded: 12, LinesRemoved: 3, FilesChanged: 2, OutputLines: 40},
		},
		{
			ID: "bbbbbbbb-2222", TaskID: 2, TaskTitle: "Speed up search", Backend: "codex",
			CreatedAt: base.Add(time.Minute), Status: session.Running(),
		},
	}
}

func loaded(t *testing.T, m Model, sessions []session.Session) Model {
	t.Helper()
	next, _ := m.Update(sessionsLoadedMsg{sessions: sessions})
	return next.(Model)
}

func press(t *testing.T, m Model, keys string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch keys {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(keys)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func newTestModel(killer Killer) Model {
	m := NewModel(&fakeLister{}, killer, nil)
	m.now = func() time.Time { return base.Add(3 * time.Minute) }
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return next.(Model)
}

func TestViewListsNewestFirst(t *testing.T) {
	m := loaded(t, newTestModel(nil), sampleSessions())
	view := ansi.Strip(m.View())

	assert.Contains(t, view, "2 sessions, 1 running")
	first := strings.Index(view, "#2 Speed up search")
	second := strings.Index(view, "#1 Fix login")
	require.True(t, first > 0 && second > 0)
	assert.Less(t, first, second)
	assert.Contains(t, view, "+12/-3")
	assert.Contains(t, view, "1m 30s")
	assert.Contains(t, view, "2m 0s")
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "done")
}

func TestViewEmptyState(t *testing.T) {
	m := loaded(t, newTestModel(nil), nil)
	assert.Contains(t, ansi.Strip(m.View()), "No sessions yet")
}

func TestRowsAreTruncatedToWidth(t *testing.T) {
	sessions := sampleSessions()
	sessions[0].TaskTitle = strings.Repeat("very long title ", 10)
	m := loaded(t, newTestModel(nil), sessions)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 60, Height: 30})
	for _, line := range strings.Split(next.(Model).table(60), "\n") {
		assert.LessOrEqual(t, ansi.StringWidth(line), 60, line)
	}
}

func TestDetailView(t *testing.T) {
	m := loaded(t, newTestModel(nil), sampleSessions())
	m, _ = press(t, m, "down")
	m, _ = press(t, m, "enter")
	view := ansi.Strip(m.View())
	assert.Contains(t, view, "aaaaaaaa-1111")
	assert.Contains(t, view, "+12 -3 in 2 files")
	assert.Contains(t, view, "Press ESC to go back")

	m, _ = press(t, m, "esc")
	assert.False(t, m.detail)
}

func TestKillNeedsConfirmation(t *testing.T) {
	killer := &fakeKiller{}
	m := loaded(t, newTestModel(killer), sampleSessions())

	m, cmd := press(t, m, "x")
	assert.Nil(t, cmd)
	assert.Equal(t, "bbbbbbbb-2222", m.confirming)
	assert.Contains(t, ansi.Strip(m.View()), "Kill session bbbbbbbb? (y/N)")

	m, cmd = press(t, m, "y")
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, []string{"bbbbbbbb-2222"}, killer.killed)

	next, _ := m.Update(msg)
	assert.Contains(t, ansi.Strip(next.(Model).View()), "bbbbbbbb: failed: killed by user")
}

func TestKillCancelledAndRefusedForTerminal(t *testing.T) {
	killer := &fakeKiller{}
	m := loaded(t, newTestModel(killer), sampleSessions())

	m, _ = press(t, m, "x")
	m, cmd := press(t, m, "n")
	assert.Nil(t, cmd)
	assert.Empty(t, m.confirming)
	assert.Equal(t, "kill cancelled", m.status)

	m, _ = press(t, m, "down")
	m, _ = press(t, m, "x")
	assert.Empty(t, m.confirming)
	assert.Equal(t, "aaaaaaaa is not running", m.status)
	assert.Empty(t, killer.killed)
}

func TestReadOnlyDashboard(t *testing.T) {
	m := loaded(t, newTestModel(nil), sampleSessions())
	m, _ = press(t, m, "x")
	assert.Equal(t, "read-only dashboard", m.status)
}

func TestSelectionFollowsSessionAcrossReloads(t *testing.T) {
	sessions := sampleSessions()
	m := loaded(t, newTestModel(nil), sessions)
	m, _ = press(t, m, "down")
	require.Equal(t, "aaaaaaaa-1111", m.rows[m.selected].ID)

	sessions = append(sessions, session.Session{ID: "cccccccc-3333", TaskID: 3, CreatedAt: base.Add(2 * time.Minute), Status: session.Running()})
	m = loaded(t, m, sessions)
	assert.Equal(t, "aaaaaaaa-1111", m.rows[m.selected].ID)
}

func TestLoadErrorIsShown(t *testing.T) {
	m := newTestModel(nil)
	next, _ := m.Update(sessionsLoadedMsg{err: errors.New("disk on fire")})
	assert.Contains(t, ansi.Strip(next.(Model).View()), "disk on fire")
}

func TestQuit(t *testing.T) {
	m := newTestModel(nil)
	_, cmd := press(t, m, "q")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestWatchStoreSignalsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	changes, stop, err := WatchStore(path)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("{}"), 0644))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change signalled")
	}

	stop()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
