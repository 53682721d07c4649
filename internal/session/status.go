package session

import (
	"encoding/json"
	"fmt"
)

// Kind tags the Status variant.
type Kind string

const (
	KindRunning   Kind = "running"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Status is the lifecycle state of a session:
//
//	Running
//	Completed{ExitCode}  process exited; the code is recorded verbatim
//	Failed{Error}        supervisor-level failure (spawn, kill, lost process)
//
// Build values with Running, Completed and Failed.
type Status struct {
	Kind     Kind
	ExitCode int
	Error    string
}

// Running is the initial status of a dispatched session.
func Running() Status { return Status{Kind: KindRunning} }

// Completed is the terminal status of a process that exited with code.
func Completed(code int) Status { return Status{Kind: KindCompleted, ExitCode: code} }

// Failed is the terminal status of a session the supervisor lost or stopped.
func Failed(cause string) Status { return Status{Kind: KindFailed, Error: cause} }

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s.Kind == KindCompleted || s.Kind == KindFailed
}

// Succeeded reports whether the status is Completed with exit code 0.
func (s Status) Succeeded() bool {
	return s.Kind == KindCompleted && s.ExitCode == 0
}

func (s Status) String() string {
	switch s.Kind {
	case KindCompleted:
		return fmt.Sprintf("completed (exit %d)", s.ExitCode)
	case KindFailed:
		if s.Error == "" {
			return "failed"
		}
		return "failed: " + s.Error
	case KindRunning:
		return "running"
	default:
		return string(s.Kind)
	}
}

type statusJSON struct {
	Kind     Kind   `json:"kind"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// MarshalJSON writes the variant as {"kind":...} with only the fields that
// belong to it.
func (s Status) MarshalJSON() ([]byte, error) {
	out := statusJSON{Kind: s.Kind}
	switch s.Kind {
	case KindRunning:
	case KindCompleted:
		code := s.ExitCode
		out.ExitCode = &code
	case KindFailed:
		out.Error = s.Error
	default:
		return nil, fmt.Errorf("unknown session status kind %q", s.Kind)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the tagged form written by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	var in statusJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case KindRunning:
		*s = Running()
	case KindCompleted:
		if in.ExitCode == nil {
			return fmt.Errorf("completed status without exit_code")
		}
		*s = Completed(*in.ExitCode)
	case KindFailed:
		*s = Failed(in.Error)
	default:
		return fmt.Errorf("unknown session status kind %q", in.Kind)
	}
	return nil
}
