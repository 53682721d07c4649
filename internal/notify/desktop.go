package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Desktop shows a native notification: osascript on macOS, notify-send on
// Linux. Other platforms report ErrUnavailable.
type Desktop struct {
	goos string
}

// NewDesktop returns a Desktop notifier for the running platform.
func NewDesktop() *Desktop {
	return &Desktop{goos: runtime.GOOS}
}

func (d *Desktop) Notify(ctx context.Context, title, message string) error {
	name, args, err := d.command(title, message)
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s not found", ErrUnavailable, name)
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s: %w", name, strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (d *Desktop) command(title, message string) (string, []string, error) {
	switch d.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s sound name \"Glass\"",
			appleScriptString(strings.ReplaceAll(message, "\n", " ")),
			appleScriptString(title))
		return "osascript", []string{"-e", script}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "notify-send", []string{"--app-name=baton", title, message}, nil
	default:
		return "", nil, fmt.Errorf("%w on %s", ErrUnavailable, d.goos)
	}
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
