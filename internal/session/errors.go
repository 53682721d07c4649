package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConflict means a workspace path or branch for the task already exists.
	ErrConflict = errors.New("conflict")

	// ErrNotFound means no session (or task) matches the request.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous means an id prefix matches more than one session.
	ErrAmbiguous = errors.New("ambiguous session id")

	// ErrTerminal is returned when a transition would leave a terminal state.
	ErrTerminal = errors.New("session already terminal")

	// ErrTransientObservation marks a monitor sample that failed and will be
	// retried on the next tick.
	ErrTransientObservation = errors.New("transient observation failure")
)

// ToolError reports that an external tool (git, an agent CLI, gh) could not
// be started or failed before there was a process to supervise.
type ToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	b.WriteString(e.Tool)
	if len(e.Args) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(e.Args, " "))
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, ": %s", out)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Err }

// IsToolError reports whether err is (or wraps) a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}
