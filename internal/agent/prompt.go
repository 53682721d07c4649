package agent

import (
	"fmt"
	"strings"

	"github.com/agusx1211/baton/internal/session"
)

// DefaultTaskKind names tracker items in prompts when the task does not.
const DefaultTaskKind = "GitHub issue"

// BuildPrompt renders the task prompt:
//
//	Fix <kind> #<id>: <title>
//
//	<body>
//
// followed by extra instructions, when given, under "Additional
// instructions:".
func BuildPrompt(task session.TaskDescriptor, instructions string) string {
	kind := strings.TrimSpace(task.Kind)
	if kind == "" {
		kind = DefaultTaskKind
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Fix %s #%d: %s\n\n", kind, task.ID, strings.TrimSpace(task.Title))
	b.WriteString(task.Body)
	if extra := strings.TrimSpace(instructions); extra != "" {
		if task.Body != "" && !strings.HasSuffix(task.Body, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\nAdditional instructions:\n")
		b.WriteString(extra)
	}
	return Sanitize(b.String())
}

// Sanitize makes text safe to pass as a single argv element. Arguments never
// go through a shell, so quoting is unnecessary; only bytes the kernel or a
// terminal would misread are dropped: NUL and other C0 controls except
// newline and tab, plus DEL. CRLF line endings become LF.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, s)
}
