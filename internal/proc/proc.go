// Package proc owns the OS processes that run agent backends. A Handle is
// the only place that knows process ids are signalled integers; the rest of
// the program sees an opaque ID plus IsAlive, ExitStatus and Terminate.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agusx1211/baton/internal/debug"
)

// ID identifies a process. The zero value means no process.
type ID int

// Valid reports whether id can name a process.
func (id ID) Valid() bool { return id > 0 }

func (id ID) String() string { return strconv.Itoa(int(id)) }

// ErrExitUnknown is returned by ExitStatus when the process is gone but its
// exit code was never recorded.
var ErrExitUnknown = errors.New("exit status unavailable")

// ExitFileEnv carries the exit-status artifact path into the wrapper shell.
const ExitFileEnv = "BATON_EXIT_FILE"

// exitScript runs its arguments as a command and records the exit code
// atomically next to the log so a later process can read it.
const exitScript = `"$@"; code=$?; printf '%s\n' "$code" > "$BATON_EXIT_FILE.tmp" && mv -f "$BATON_EXIT_FILE.tmp" "$BATON_EXIT_FILE"; exit "$code"`

// Spec describes a process to start.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // full environment; nil inherits the current one

	// LogPath receives stdout and stderr, opened for append.
	LogPath string

	// ExitPath, when set, receives the exit code once the command returns.
	ExitPath string
}

// Exit is how a process ended.
type Exit struct {
	Code   int
	Signal string // set when the process was killed by a signal
}

// Handle tracks one process, either started here (Start) or found again
// after a restart (Attach).
type Handle struct {
	id       ID
	exitPath string

	// done is closed when an owned process has been reaped; nil when attached.
	done    chan struct{}
	mu      sync.Mutex
	exit    Exit
	waitErr error
}

// Start spawns spec in its own session with output redirected to the log
// file and returns as soon as the process exists. The child keeps running
// if this process exits.
func Start(spec Spec) (*Handle, error) {
	if strings.TrimSpace(spec.Dir) == "" {
		return nil, fmt.Errorf("working directory is required")
	}
	if strings.TrimSpace(spec.LogPath) == "" {
		return nil, fmt.Errorf("log path is required")
	}
	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("locating %s: %w", spec.Command, err)
	}

	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log %s: %w", spec.LogPath, err)
	}
	// The child holds its own descriptor after Start.
	defer logFile.Close()

	env := spec.Env
	if env == nil {
		env = os.Environ()
	}
	name, args := path, spec.Args
	if spec.ExitPath != "" {
		_ = os.Remove(spec.ExitPath)
		name = "/bin/sh"
		args = append([]string{"-c", exitScript, "baton-agent", path}, spec.Args...)
		env = append(append([]string(nil), env...), ExitFileEnv+"="+spec.ExitPath)
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = spec.Dir
	cmd.Env = debug.PropagatedEnv(env, "agent")
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	debug.LogKV("proc", "starting", "command", path, "args_count", len(spec.Args), "dir", spec.Dir, "log", spec.LogPath)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", path, err)
	}

	h := &Handle{
		id:       ID(cmd.Process.Pid),
		exitPath: spec.ExitPath,
		done:     make(chan struct{}),
	}
	go h.reap(cmd)
	debug.LogKV("proc", "started", "pid", h.id, "command", path)
	return h, nil
}

// Attach returns a handle for a process started by an earlier run of the
// program. Liveness is probed by id; the exit code comes from exitPath.
func Attach(id ID, exitPath string) *Handle {
	return &Handle{id: id, exitPath: exitPath}
}

func (h *Handle) reap(cmd *exec.Cmd) {
	err := cmd.Wait()
	exit, waitErr := exitFromState(cmd.ProcessState, err)

	h.mu.Lock()
	h.exit = exit
	h.waitErr = waitErr
	h.mu.Unlock()
	close(h.done)
	debug.LogKV("proc", "reaped", "pid", h.id, "code", exit.Code, "signal", exit.Signal, "error", waitErr)
}

func exitFromState(ps *os.ProcessState, err error) (Exit, error) {
	if ps == nil {
		if err == nil {
			err = ErrExitUnknown
		}
		return Exit{}, err
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return Exit{Code: -1, Signal: ws.Signal().String()}, nil
	}
	return Exit{Code: ps.ExitCode()}, nil
}

// ID returns the process id.
func (h *Handle) ID() ID { return h.id }

// Done is closed once an owned process has exited. It is nil for attached
// handles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsAlive reports whether the process is still running.
func (h *Handle) IsAlive() bool {
	if h.done != nil {
		select {
		case <-h.done:
			return false
		default:
			return true
		}
	}
	return Alive(h.id)
}

// ExitStatus reports how the process ended. exited is false while it is
// still running. For an exited process whose code was never recorded the
// error is ErrExitUnknown.
func (h *Handle) ExitStatus() (exit Exit, exited bool, err error) {
	if h.IsAlive() {
		return Exit{}, false, nil
	}
	if h.done != nil {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exit, true, h.waitErr
	}
	code, err := ReadExitFile(h.exitPath)
	if err != nil {
		return Exit{}, true, err
	}
	return Exit{Code: code}, true, nil
}

// Terminate sends SIGTERM to the process group, then SIGKILL if the process
// is still alive after grace. A process that is already gone is not an error.
func (h *Handle) Terminate(grace time.Duration) error {
	if !h.id.Valid() {
		return fmt.Errorf("no process to terminate")
	}
	if err := signalGroup(h.id, syscall.SIGTERM); err != nil {
		return err
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !h.IsAlive() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !h.IsAlive() {
		return nil
	}
	debug.LogKV("proc", "escalating to SIGKILL", "pid", h.id)
	return signalGroup(h.id, syscall.SIGKILL)
}

// signalGroup signals the process group led by id, falling back to the
// process itself. ESRCH means it already exited.
func signalGroup(id ID, sig syscall.Signal) error {
	err := syscall.Kill(-int(id), sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(int(id), sig)
	}
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return fmt.Errorf("signalling process %d: %w", id, err)
}

// Alive checks whether a process with the given id exists.
func Alive(id ID) bool {
	if !id.Valid() {
		return false
	}
	err := syscall.Kill(int(id), 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// ReadExitFile parses an exit-status artifact written by the wrapper shell.
func ReadExitFile(path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, ErrExitUnknown
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrExitUnknown
		}
		return 0, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing exit file %s: %w", path, err)
	}
	return code, nil
}
