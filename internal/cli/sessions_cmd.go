package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/baton/internal/dispatch"
	"github.com/agusx1211/baton/internal/session"
	"github.com/agusx1211/baton/internal/theme"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "List and manage agent sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions",
	RunE:    runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsKillCmd = &cobra.Command{
	Use:     "kill <session>",
	Aliases: []string{"stop"},
	Short:   "Terminate a running session's agent",
	Long: `Send SIGTERM to the agent's process group, then SIGKILL if it has not
exited after a grace period, and mark the session failed. Killing a session
that already ended does nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsKill,
}

var sessionsLogsCmd = &cobra.Command{
	Use:   "logs <session>",
	Short: "Print a session's captured agent output",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsLogs,
}

var sessionsRmCmd = &cobra.Command{
	Use:     "rm <session>",
	Aliases: []string{"remove", "cleanup"},
	Short:   "Remove a session with its worktree, branch and log",
	Long: `Remove a finished session's worktree, branch, log and record.

Without --force, running sessions, dirty worktrees and branches with
commits not merged into the base branch are refused. --force kills a
running agent and discards its work.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsRm,
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove finished sessions older than a cutoff",
	Long: `Remove sessions that finished more than --older-than ago, together with
their worktrees, branches and logs. Running sessions are never pruned.`,
	RunE: runSessionsPrune,
}

func init() {
	sessionsListCmd.Flags().Bool("running", false, "Only show running sessions")
	sessionsListCmd.Flags().Bool("json", false, "Print sessions as JSON")
	sessionsShowCmd.Flags().Bool("json", false, "Print the session as JSON")
	sessionsLogsCmd.Flags().BoolP("follow", "f", false, "Keep printing output until the session ends")
	sessionsRmCmd.Flags().Bool("force", false, "Kill if running and discard unmerged work")
	sessionsRmCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	sessionsPruneCmd.Flags().Duration("older-than", 0, "Age cutoff (default prune_after from config)")
	sessionsPruneCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsKillCmd, sessionsLogsCmd, sessionsRmCmd, sessionsPruneCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	sessions, err := e.store.List()
	if err != nil {
		return err
	}
	if onlyRunning, _ := cmd.Flags().GetBool("running"); onlyRunning {
		var running []session.Session
		for _, s := range sessions {
			if s.IsRunning() {
				running = append(running, s)
			}
		}
		sessions = running
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if sessions == nil {
			sessions = []session.Session{}
		}
		return writeJSON(out, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, colorDim+"  No sessions."+colorReset)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  Start one with "+styleBoldWhite+"baton dispatch"+colorReset)
		return nil
	}

	printHeader(out, "Sessions")
	now := time.Now()
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ShortID(),
			fmt.Sprintf("#%d %s", s.TaskID, truncate(s.TaskTitle, 36)),
			s.Project,
			s.Backend,
			statusColor(s.Status) + theme.StatusLabel(s.Status) + colorReset,
			session.FormatDuration(s.Duration(now)),
			fmt.Sprintf("+%d/-%d", s.Stats.LinesAdded, s.Stats.LinesRemoved),
			fmt.Sprintf("%d", s.Stats.FilesChanged),
			fmt.Sprintf("%d", s.Stats.OutputLines),
		})
	}
	printTable(out, []string{"ID", "TASK", "PROJECT", "AGENT", "STATUS", "TIME", "+/-", "FILES", "OUTPUT"}, rows)
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	s, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, s)
	}
	printSession(out, s)
	return nil
}

func printSession(out io.Writer, s session.Session) {
	printHeader(out, fmt.Sprintf("#%d %s", s.TaskID, firstLine(s.TaskTitle)))
	printField(out, "Session", s.ID)
	printFieldColored(out, "Status", s.Status.String(), statusColor(s.Status))
	printField(out, "Agent", s.Backend)
	printField(out, "Project", s.Project)
	if s.PID.Valid() {
		printField(out, "PID", s.PID.String())
	}
	printField(out, "Started", s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if !s.EndedAt.IsZero() {
		printField(out, "Ended", s.EndedAt.Local().Format("2006-01-02 15:04:05"))
	}
	printField(out, "Duration", session.FormatDuration(s.Duration(time.Now())))
	printField(out, "Diff", fmt.Sprintf("+%d -%d in %d files", s.Stats.LinesAdded, s.Stats.LinesRemoved, s.Stats.FilesChanged))
	printField(out, "Output", fmt.Sprintf("%d lines", s.Stats.OutputLines))
	printField(out, "Repository", s.RepoPath)
	printField(out, "Worktree", s.WorkspacePath)
	printField(out, "Branch", fmt.Sprintf("%s (from %s)", s.Branch, s.BaseBranch))
	printField(out, "Log", s.LogPath)
	if s.ResultURL != "" {
		printField(out, "Pull request", s.ResultURL)
	}
	fmt.Fprintln(out)
}

func runSessionsKill(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	s, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if s.IsTerminal() {
		fmt.Fprintf(out, "Session %s already %s.\n", s.ShortID(), s.Status)
		return nil
	}
	sup := e.supervisor()
	defer sup.Shutdown()
	rec, err := sup.Kill(cmd.Context(), s.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s %s%s%s.\n", rec.ShortID(), statusColor(rec.Status), rec.Status, colorReset)
	return nil
}

func runSessionsLogs(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	s, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}
	follow, _ := cmd.Flags().GetBool("follow")
	return copyLog(cmd, e, s, follow)
}

// copyLog prints the log, then with follow keeps printing appended output
// until the session is terminal.
func copyLog(cmd *cobra.Command, e *env, s session.Session, follow bool) error {
	f, err := os.Open(s.LogPath)
	if err != nil {
		return fmt.Errorf("opening log for %s: %w", s.ShortID(), err)
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	for {
		if _, err := io.Copy(out, f); err != nil {
			return err
		}
		if !follow {
			return nil
		}
		cur, err := e.store.Get(s.ID)
		if err != nil || cur.IsTerminal() {
			_, err := io.Copy(out, f)
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func runSessionsRm(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	s, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	yes, _ := cmd.Flags().GetBool("yes")

	prompt := fmt.Sprintf("Remove session %s (#%d) and its worktree?", s.ShortID(), s.TaskID)
	if force && s.IsRunning() {
		prompt = fmt.Sprintf("Session %s is running. Kill it and remove its worktree?", s.ShortID())
	}
	ok, err := confirm(prompt, yes)
	if err != nil || !ok {
		return err
	}

	sup := e.supervisor()
	defer sup.Shutdown()
	removed, err := sup.Cleanup(cmd.Context(), s.ID, force)
	if errors.Is(err, dispatch.ErrRunning) {
		return fmt.Errorf("%w; run 'baton sessions kill %s' first or pass --force", err, s.ShortID())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed session %s (#%d).\n", removed.ShortID(), removed.TaskID)
	return nil
}

func runSessionsPrune(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	age := e.cfg.PruneAfter.Duration
	if cmd.Flags().Changed("older-than") {
		age, _ = cmd.Flags().GetDuration("older-than")
	}
	yes, _ := cmd.Flags().GetBool("yes")
	ok, err := confirm(fmt.Sprintf("Remove sessions that finished more than %s ago?", age), yes)
	if err != nil || !ok {
		return err
	}

	sup := e.supervisor()
	defer sup.Shutdown()
	pruned, err := sup.Prune(cmd.Context(), age)
	out := cmd.OutOrStdout()
	for _, s := range pruned {
		fmt.Fprintf(out, "  removed %s #%d %s\n", s.ShortID(), s.TaskID, truncate(s.TaskTitle, 40))
	}
	fmt.Fprintf(out, "Pruned %d session(s).\n", len(pruned))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
