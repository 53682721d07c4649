package config

import (
	"path/filepath"

	"github.com/agusx1211/baton/internal/store"
	"github.com/agusx1211/baton/internal/worktree"
)

// Cache directory layout:
//
//	<cache>/sessions.json
//	<cache>/agents/<id>.log
//	<cache>/agents/<id>.exit
//	<cache>/worktrees/<project>-<task>/
//	<cache>/debug/

func (c *Config) SessionsPath() string { return filepath.Join(c.CacheDir, store.FileName) }
func (c *Config) AgentsDir() string    { return filepath.Join(c.CacheDir, "agents") }
func (c *Config) WorktreesDir() string { return filepath.Join(c.CacheDir, worktree.DirName) }
func (c *Config) DebugDir() string     { return filepath.Join(c.CacheDir, "debug") }

// LogPath is the output artifact of session id.
func (c *Config) LogPath(id string) string {
	return filepath.Join(c.AgentsDir(), id+".log")
}

// ExitPath is the exit-status artifact of session id.
func (c *Config) ExitPath(id string) string {
	return filepath.Join(c.AgentsDir(), id+".exit")
}
