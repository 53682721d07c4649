package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agusx1211/baton/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "baton %s\n", buildinfo.Current())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
