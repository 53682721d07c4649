// Package cli implements the baton command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agusx1211/baton/internal/buildinfo"
	"github.com/agusx1211/baton/internal/config"
	"github.com/agusx1211/baton/internal/debug"
)

const (
	// ANSI color codes
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"

	// Combined styles
	styleBoldCyan  = "\033[1;36m"
	styleBoldWhite = "\033[1;37m"
)

var rootCmd = &cobra.Command{
	Use:   "baton",
	Short: "Hand issues to coding agents, each in its own git worktree",
	Long: colorBold + `baton` + colorReset + ` v` + buildinfo.Current().Version + `

  Delegate tracker issues to coding-agent CLIs (claude, opencode, codex).
  Every task gets its own branch and git worktree; baton starts the agent
  there, watches its output and diff, and tells you when it is done.

` + colorBold + `Getting Started:` + colorReset + `
  baton dispatch --task 42 --title "Fix login"   Start an agent on issue #42
  baton sessions list                             See what is running
  baton watch                                     Live dashboard
  baton pr <session>                              Open a pull request

  Run ` + styleBoldWhite + `baton` + colorReset + ` in a terminal to open the dashboard.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return runWatch(cmd, args)
		}
		return runSessionsList(cmd, args)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// configPath is the --config override.
var configPath string

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to <cache>/debug/")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $BATON_CONFIG or <config dir>/baton/config.yaml)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logPath, err := debug.Init(cfg.DebugDir())
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s[debug]%s logging to %s\n", colorDim, colorReset, logPath)
		bi := buildinfo.Current()
		debug.LogKV("cli", "baton starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
			"build_date", bi.BuildDate,
			"pid", os.Getpid(),
			"command", cmd.Name(),
			"args", args,
		)
		return nil
	}
}

// resolvedConfigPath is the config file in effect.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.Path()
}

func loadConfig() (*config.Config, error) {
	return config.LoadFile(resolvedConfigPath())
}

// Execute runs the root command.
func Execute() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		debug.Logf("cli", "exit with error: %v", err)
		fmt.Fprintf(os.Stderr, "%sError: %s%s\n", colorRed, err, colorReset)
		debug.Close()
		os.Exit(1)
	}
	debug.Log("cli", "exit success")
}
