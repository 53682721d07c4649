package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/session"
)

// Entry is a worktree directory found on disk.
type Entry struct {
	Name    string
	Path    string
	Project string
	TaskID  int // zero when the name does not end in a task number
	ModTime time.Time
}

// List returns the directories under root sorted by name. A missing root
// is an empty list.
func List(root string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		e := Entry{Name: de.Name(), Path: filepath.Join(root, de.Name())}
		e.Project, e.TaskID, _ = ParseWorkspaceDir(de.Name())
		if info, err := de.Info(); err == nil {
			e.ModTime = info.ModTime()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListOrphans returns the worktree directories under root that no session
// record points at.
func ListOrphans(root string, sessions []session.Session) ([]Entry, error) {
	entries, err := List(root)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		owned[filepath.Clean(s.WorkspacePath)] = true
	}
	var orphans []Entry
	for _, e := range entries {
		if !owned[filepath.Clean(e.Path)] {
			orphans = append(orphans, e)
		}
	}
	return orphans, nil
}

// RemoveEntry force-removes a worktree directory found on disk. When the
// owning repository can be recovered the worktree and its task branch are
// removed through git; otherwise the directory is deleted.
func RemoveEntry(ctx context.Context, e Entry) error {
	repo, err := ParentRepo(e.Path)
	if err != nil {
		debug.LogKV("worktree", "parent repo unknown, deleting directory", "path", e.Path, "error", err)
		return os.RemoveAll(e.Path)
	}
	ws := Workspace{Path: e.Path, RepoPath: repo, Project: e.Project, TaskID: e.TaskID}
	if e.TaskID > 0 {
		ws.Branch = BranchName(e.TaskID)
	}
	return NewManager(repo, filepath.Dir(e.Path), "").Remove(ctx, ws, true)
}
