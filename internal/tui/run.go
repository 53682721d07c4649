package tui

import (
	"path/filepath"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/store"
)

// Run shows the dashboard for st until the user quits.
func Run(st *store.Store, killer Killer) error {
	changes, stop, err := WatchStore(st.Path())
	if err != nil {
		debug.LogKV("tui", "store watch unavailable, refresh manually", "error", err)
		changes = nil
	} else {
		defer stop()
	}
	p := tea.NewProgram(NewModel(st, killer, changes), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// WatchStore signals on the returned channel whenever the store file at
// path is rewritten. Bursts coalesce into one pending signal. The channel
// is closed after stop.
func WatchStore(path string) (<-chan struct{}, func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	// The file is replaced by rename, so watch its directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, nil, err
	}
	target := filepath.Clean(path)
	out := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				debug.LogKV("tui", "watch error", "error", err)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			w.Close()
		})
	}
	return out, stop, nil
}
