// Package store persists session records in a single JSON file.
//
// Every mutation is a full read-modify-write of the file performed under
// one process-wide mutex and an exclusive advisory lock on a sibling
// ".lock" file, so concurrent monitors, the supervisor, and other baton
// processes never lose each other's updates. Writes land in a temp file
// that is renamed into place.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/session"
)

const (
	dataVersion = 1

	// FileName is the store file name inside the cache directory.
	FileName = "sessions.json"
)

type dataset struct {
	Version  int               `json:"version"`
	Updated  time.Time         `json:"updated"`
	Sessions []session.Session `json:"sessions"`
}

// Store is the authoritative collection of sessions.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a store backed by path, creating the parent directory. A
// missing file is an empty store; a corrupt one is reported here rather
// than on first use.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("session store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating session store dir: %w", err)
	}
	s := &Store{path: path}
	if _, err := s.List(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// List returns every session in creation order.
func (s *Store) List() ([]session.Session, error) {
	ds, err := s.loadShared()
	if err != nil {
		return nil, err
	}
	return ds.Sessions, nil
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (session.Session, error) {
	ds, err := s.loadShared()
	if err != nil {
		return session.Session{}, err
	}
	if i := indexOf(ds.Sessions, id); i >= 0 {
		return ds.Sessions[i], nil
	}
	return session.Session{}, fmt.Errorf("%w: session %s", session.ErrNotFound, id)
}

// Resolve finds a session by full id or unique id prefix.
func (s *Store) Resolve(prefix string) (session.Session, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return session.Session{}, fmt.Errorf("%w: empty session id", session.ErrNotFound)
	}
	sessions, err := s.List()
	if err != nil {
		return session.Session{}, err
	}
	var matches []session.Session
	for _, sess := range sessions {
		if sess.ID == prefix {
			return sess, nil
		}
		if strings.HasPrefix(sess.ID, prefix) {
			matches = append(matches, sess)
		}
	}
	switch len(matches) {
	case 0:
		return session.Session{}, fmt.Errorf("%w: session %s", session.ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return session.Session{}, fmt.Errorf("%w: %q matches %d sessions", session.ErrAmbiguous, prefix, len(matches))
	}
}

// FindByTask returns the sessions recorded for one task of one project.
func (s *Store) FindByTask(project string, taskID int) ([]session.Session, error) {
	sessions, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []session.Session
	for _, sess := range sessions {
		if sess.Project == project && sess.TaskID == taskID {
			out = append(out, sess)
		}
	}
	return out, nil
}

// Insert adds a new session. An existing id is a conflict.
func (s *Store) Insert(sess session.Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	return s.mutate(func(ds *dataset) (bool, error) {
		if indexOf(ds.Sessions, sess.ID) >= 0 {
			return false, fmt.Errorf("%w: session %s already exists", session.ErrConflict, sess.ID)
		}
		ds.Sessions = append(ds.Sessions, sess)
		return true, nil
	})
}

// Upsert replaces the record with the same id, or adds it.
func (s *Store) Upsert(sess session.Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	return s.mutate(func(ds *dataset) (bool, error) {
		if i := indexOf(ds.Sessions, sess.ID); i >= 0 {
			ds.Sessions[i] = sess
		} else {
			ds.Sessions = append(ds.Sessions, sess)
		}
		return true, nil
	})
}

// Update applies fn to the stored record under the store lock and persists
// the result. If fn returns an error nothing is written and the error is
// returned unchanged. The record as written is returned.
func (s *Store) Update(id string, fn func(*session.Session) error) (session.Session, error) {
	var out session.Session
	err := s.mutate(func(ds *dataset) (bool, error) {
		i := indexOf(ds.Sessions, id)
		if i < 0 {
			return false, fmt.Errorf("%w: session %s", session.ErrNotFound, id)
		}
		rec := ds.Sessions[i]
		if err := fn(&rec); err != nil {
			return false, err
		}
		// Identity and placement are fixed at creation.
		rec.ID = ds.Sessions[i].ID
		rec.WorkspacePath = ds.Sessions[i].WorkspacePath
		rec.Branch = ds.Sessions[i].Branch
		ds.Sessions[i] = rec
		out = rec
		return true, nil
	})
	return out, err
}

// Remove deletes a record and returns it.
func (s *Store) Remove(id string) (session.Session, error) {
	var removed session.Session
	err := s.mutate(func(ds *dataset) (bool, error) {
		i := indexOf(ds.Sessions, id)
		if i < 0 {
			return false, fmt.Errorf("%w: session %s", session.ErrNotFound, id)
		}
		removed = ds.Sessions[i]
		ds.Sessions = append(ds.Sessions[:i], ds.Sessions[i+1:]...)
		return true, nil
	})
	return removed, err
}

// PruneOlderThan removes terminal sessions that ended more than age ago.
func (s *Store) PruneOlderThan(age time.Duration) ([]session.Session, error) {
	return s.PruneBefore(time.Now().Add(-age))
}

// PruneBefore removes terminal sessions whose terminal timestamp is before
// cutoff and returns them. Running sessions are never removed.
func (s *Store) PruneBefore(cutoff time.Time) ([]session.Session, error) {
	var pruned []session.Session
	err := s.mutate(func(ds *dataset) (bool, error) {
		kept := ds.Sessions[:0]
		for _, sess := range ds.Sessions {
			if sess.IsTerminal() && sess.TerminalAt().Before(cutoff) {
				pruned = append(pruned, sess)
				continue
			}
			kept = append(kept, sess)
		}
		ds.Sessions = kept
		return len(pruned) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	if len(pruned) > 0 {
		debug.LogKV("store", "pruned sessions", "count", len(pruned), "cutoff", cutoff.Format(time.RFC3339))
	}
	return pruned, nil
}

func indexOf(sessions []session.Session, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// mutate is the single serialization point for writes.
func (s *Store) mutate(fn func(*dataset) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFile, err := lockPath(s.path+".lock", true)
	if err != nil {
		return fmt.Errorf("locking session store: %w", err)
	}
	defer unlock(lockFile)

	ds, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	changed, err := fn(ds)
	if err != nil || !changed {
		return err
	}
	return s.writeUnlocked(ds)
}

func (s *Store) loadShared() (*dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFile, err := lockPath(s.path+".lock", false)
	if err != nil {
		return nil, fmt.Errorf("locking session store: %w", err)
	}
	defer unlock(lockFile)
	return s.loadUnlocked()
}

func (s *Store) loadUnlocked() (*dataset, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &dataset{Version: dataVersion, Sessions: []session.Session{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session store: %w", err)
	}
	var ds dataset
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &ds); err != nil {
			return nil, fmt.Errorf("parsing session store %s: %w", s.path, err)
		}
	}
	if ds.Version <= 0 {
		ds.Version = dataVersion
	}
	if ds.Sessions == nil {
		ds.Sessions = []session.Session{}
	}
	sort.SliceStable(ds.Sessions, func(i, j int) bool {
		return ds.Sessions[i].CreatedAt.Before(ds.Sessions[j].CreatedAt)
	})
	return &ds, nil
}

func (s *Store) writeUnlocked(ds *dataset) error {
	ds.Version = dataVersion
	ds.Updated = time.Now().UTC()
	if ds.Sessions == nil {
		ds.Sessions = []session.Session{}
	}

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp session store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing session store: %w", err)
	}
	return nil
}

func lockPath(path string, exclusive bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	lockMode := syscall.LOCK_SH
	if exclusive {
		lockMode = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(f.Fd()), lockMode); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func unlock(f *os.File) {
	if f == nil {
		return
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}
