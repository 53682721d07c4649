package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"

	"github.com/agusx1211/baton/internal/config"
	"github.com/agusx1211/baton/internal/dispatch"
	"github.com/agusx1211/baton/internal/metrics"
	"github.com/agusx1211/baton/internal/session"
	"github.com/agusx1211/baton/internal/store"
)

// env bundles what most commands need.
type env struct {
	cfg     *config.Config
	store   *store.Store
	metrics *metrics.Metrics
}

func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.SessionsPath())
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return &env{cfg: cfg, store: st, metrics: metrics.New()}, nil
}

func (e *env) supervisor() *dispatch.Supervisor {
	return dispatch.New(e.cfg, e.store, dispatch.Options{
		Notifier: e.cfg.Notifier(),
		Metrics:  e.metrics,
	})
}

// serveMetrics exposes the registry on metrics_addr when configured.
func (e *env) serveMetrics(ctx context.Context, errOut io.Writer) {
	if e.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		if err := e.metrics.Serve(ctx, e.cfg.MetricsAddr); err != nil {
			fmt.Fprintf(errOut, "%smetrics server: %v%s\n", colorRed, err, colorReset)
		}
	}()
}

// resolveSession finds a session by full id or unique prefix.
func (e *env) resolveSession(ref string) (session.Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return session.Session{}, fmt.Errorf("session id is required")
	}
	return e.store.Resolve(ref)
}

// confirm asks a yes/no question unless assumeYes is set. Without a
// terminal the answer is no.
func confirm(title string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return false, fmt.Errorf("%s: refusing without a terminal (pass --yes)", title)
	}
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

// printHeader prints a formatted section header.
func printHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s%s%s\n", styleBoldCyan, title, colorReset)
	fmt.Fprintln(w, colorDim+strings.Repeat("-", len(title)+2)+colorReset)
}

// printField prints a labeled field.
func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s%-16s%s %s\n", colorBold, label+":", colorReset, value)
}

// printFieldColored prints a labeled field with colored value.
func printFieldColored(w io.Writer, label, value, color string) {
	fmt.Fprintf(w, "  %s%-16s%s %s%s%s\n", colorBold, label+":", colorReset, color, value, colorReset)
}

// statusColor returns an ANSI color code for a session status.
func statusColor(st session.Status) string {
	switch {
	case st.Kind == session.KindRunning:
		return colorYellow
	case st.Succeeded():
		return colorGreen
	default:
		return colorRed
	}
}

// printTable prints a simple table with headers and rows.
func printTable(w io.Writer, headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, colorDim+"  (none)"+colorReset)
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				if n := ansi.StringWidth(cell); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}

	headerLine := "  "
	for i, h := range headers {
		if i == len(headers)-1 {
			headerLine += colorBold + h + colorReset
			break
		}
		headerLine += fmt.Sprintf("%s%-*s%s", colorBold, widths[i]+2, h, colorReset)
	}
	fmt.Fprintln(w, headerLine)

	sepLine := "  "
	for _, width := range widths {
		sepLine += colorDim + strings.Repeat("-", width+2) + colorReset
	}
	fmt.Fprintln(w, sepLine)

	for _, row := range rows {
		rowLine := "  "
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			rowLine += cell
			if i < len(widths)-1 && i < len(row)-1 {
				padding := max(widths[i]-ansi.StringWidth(cell), 0)
				rowLine += strings.Repeat(" ", padding+2)
			}
		}
		fmt.Fprintln(w, rowLine)
	}
}

// truncate shortens s to maxLen display cells.
func truncate(s string, maxLen int) string {
	return ansi.Truncate(s, maxLen, "...")
}

// firstLine returns the first line of a multi-line string.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
