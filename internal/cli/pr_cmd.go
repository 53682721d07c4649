package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var prCmd = &cobra.Command{
	Use:   "pr <session>",
	Short: "Open a pull request for a finished session",
	Long: `Commit anything the agent left uncommitted, push the session's branch to
origin and open a pull request against the base branch with the GitHub CLI
(gh). The pull request URL is saved on the session.`,
	Args: cobra.ExactArgs(1),
	RunE: runPR,
}

func init() {
	rootCmd.AddCommand(prCmd)
}

func runPR(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	s, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}
	if s.ResultURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Pull request already open: %s\n", s.ResultURL)
		return nil
	}
	rec, err := e.supervisor().CreatePullRequest(cmd.Context(), s.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s✓%s %s\n", colorGreen, colorReset, rec.ResultURL)
	return nil
}
