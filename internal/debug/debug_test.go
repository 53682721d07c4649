package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldEnableFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		path    string
		want    bool
	}{
		{name: "disabled by default", enabled: "", path: "", want: false},
		{name: "enabled explicit", enabled: "1", path: "", want: true},
		{name: "enabled via path", enabled: "", path: "/tmp/baton.log", want: true},
		{name: "explicit off wins", enabled: "0", path: "/tmp/baton.log", want: false},
		{name: "unknown toggle without path", enabled: "maybe", path: "", want: false},
		{name: "unknown toggle with path", enabled: "maybe", path: "/tmp/baton.log", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvEnabled, tt.enabled)
			t.Setenv(EnvLogPath, tt.path)
			assert.Equal(t, tt.want, ShouldEnableFromEnv())
		})
	}
}

func TestInitCreatesLogInDir(t *testing.T) {
	defer Close()
	t.Setenv(EnvLogPath, "")
	dir := filepath.Join(t.TempDir(), "debug")

	path, err := Init(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, path, Path())

	// A second Init keeps the first logger.
	again, err := Init(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, path, again)

	LogKV("monitor", "tick", "session", "abc", "lines", 3)
	Close()
	assert.Empty(t, Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "=== BATON DEBUG LOG ===")
	assert.Contains(t, s, "tick session=abc lines=3")
	assert.Contains(t, s, "=== DEBUG LOG CLOSED ===")
}

func TestInitInheritedPathAndProcessMetadata(t *testing.T) {
	defer Close()

	logPath := filepath.Join(t.TempDir(), "aggregate.log")
	require.NoError(t, os.WriteFile(logPath, []byte("existing\n"), 0644))
	t.Setenv(EnvLogPath, logPath)
	t.Setenv(EnvProcess, "agent")

	gotPath, err := Init("")
	require.NoError(t, err)
	assert.Equal(t, logPath, gotPath)

	LogKV("test", "hello", "k", "v")
	Close()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	s := string(data)
	assert.True(t, strings.HasPrefix(s, "existing\n"), "existing content must stay first: %q", s)
	assert.Contains(t, s, "=== BATON DEBUG PROCESS ATTACHED ===")
	assert.Contains(t, s, "Process: agent")
	assert.Contains(t, s, "[P")
	assert.Contains(t, s, "hello k=v")
}

func TestInitWithoutDirFails(t *testing.T) {
	defer Close()
	t.Setenv(EnvLogPath, "")
	_, err := Init("")
	assert.Error(t, err)
}

func TestPropagatedEnv(t *testing.T) {
	t.Run("no debug enabled", func(t *testing.T) {
		defer Close()
		in := []string{"FOO=bar"}
		assert.Equal(t, in, PropagatedEnv(in, "agent"))
	})

	t.Run("overlay debug vars", func(t *testing.T) {
		defer Close()
		logPath := filepath.Join(t.TempDir(), "shared.log")
		t.Setenv(EnvLogPath, logPath)
		t.Setenv(EnvProcess, "cli:watch")
		_, err := Init("")
		require.NoError(t, err)

		out := PropagatedEnv([]string{
			"FOO=bar",
			EnvEnabled + "=0",
			EnvProcess + "=old",
		}, "agent")

		m := envMap(out)
		assert.Equal(t, "bar", m["FOO"])
		assert.Equal(t, "1", m[EnvEnabled])
		assert.Equal(t, logPath, m[EnvLogPath])
		assert.Equal(t, "agent", m[EnvProcess])
	})
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		m[parts[0]] = parts[1]
	}
	return m
}
