package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/baton/internal/session"
	"github.com/agusx1211/baton/internal/worktree"
)

var worktreesCmd = &cobra.Command{
	Use:     "worktrees",
	Aliases: []string{"worktree", "wt"},
	Short:   "Inspect and clean up baton-managed worktrees",
}

var worktreesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List worktree directories and the session owning each",
	RunE:    runWorktreesList,
}

var worktreesOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List worktrees no session record owns",
	Long: `List worktree directories left behind with no session record, for
example after a crash or a manual edit of the session store.`,
	RunE: runWorktreesOrphans,
}

var worktreesOpenCmd = &cobra.Command{
	Use:   "open <session>",
	Short: "Open a session's worktree in your editor",
	Long: `Open the session's worktree in the editor named by the "ide" config key,
or cursor, or code, whichever is found first.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorktreesOpen,
}

var worktreesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove orphaned worktrees",
	Long: `Remove orphaned worktrees (and their issue branches) last modified more
than --older-than ago. Use --older-than=0 to remove every orphan.`,
	RunE: runWorktreesPrune,
}

func init() {
	worktreesPruneCmd.Flags().Duration("older-than", 24*time.Hour, "Only remove orphans older than this (0 = all)")
	worktreesPruneCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	worktreesOpenCmd.Flags().String("ide", "", "Editor command (overrides the ide config key)")
	worktreesCmd.AddCommand(worktreesListCmd, worktreesOrphansCmd, worktreesOpenCmd, worktreesPruneCmd)
	rootCmd.AddCommand(worktreesCmd)
}

func runWorktreesList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	entries, err := worktree.List(e.cfg.WorktreesDir())
	if err != nil {
		return err
	}
	sessions, err := e.store.List()
	if err != nil {
		return err
	}
	owner := make(map[string]session.Session, len(sessions))
	for _, s := range sessions {
		owner[s.WorkspacePath] = s
	}

	out := cmd.OutOrStdout()
	printHeader(out, "Worktrees")
	rows := make([][]string, 0, len(entries))
	for _, en := range entries {
		sess := colorYellow + "orphan" + colorReset
		if s, ok := owner[en.Path]; ok {
			sess = fmt.Sprintf("%s %s%s%s", s.ShortID(), statusColor(s.Status), s.Status, colorReset)
		}
		rows = append(rows, []string{en.Name, sess, en.ModTime.Local().Format("2006-01-02 15:04"), en.Path})
	}
	printTable(out, []string{"NAME", "SESSION", "MODIFIED", "PATH"}, rows)
	return nil
}

func runWorktreesOrphans(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	sup := e.supervisor()
	orphans, err := sup.Orphans()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printHeader(out, "Orphaned worktrees")
	rows := make([][]string, 0, len(orphans))
	for _, o := range orphans {
		rows = append(rows, []string{o.Name, o.ModTime.Local().Format("2006-01-02 15:04"), o.Path})
	}
	printTable(out, []string{"NAME", "MODIFIED", "PATH"}, rows)
	return nil
}

func runWorktreesOpen(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	s, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}
	editor, _ := cmd.Flags().GetString("ide")
	if editor == "" {
		editor = e.cfg.IDE
	}
	if err := worktree.OpenInEditor(s.WorkspacePath, editor); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Opened %s\n", s.WorkspacePath)
	return nil
}

func runWorktreesPrune(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	age, _ := cmd.Flags().GetDuration("older-than")
	yes, _ := cmd.Flags().GetBool("yes")

	sup := e.supervisor()
	orphans, err := sup.Orphans()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(orphans) == 0 {
		fmt.Fprintln(out, "No orphaned worktrees found.")
		return nil
	}
	ok, err := confirm(fmt.Sprintf("Remove orphaned worktrees older than %s?", age), yes)
	if err != nil || !ok {
		return err
	}
	removed, err := sup.PruneOrphans(cmd.Context(), age)
	for _, r := range removed {
		fmt.Fprintf(out, "  removed %s\n", r.Path)
	}
	if len(removed) == 0 {
		fmt.Fprintln(out, "No stale orphaned worktrees found.")
	} else {
		fmt.Fprintf(out, "Removed %d orphaned worktree(s).\n", len(removed))
	}
	return err
}
