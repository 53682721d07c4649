package cli

import (
	"github.com/spf13/cobra"

	"github.com/agusx1211/baton/internal/agent"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Show which agent backends are installed",
	RunE:  runAgents,
}

func init() {
	agentsCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	var found []agent.Installation
	for _, b := range agent.Backends() {
		found = append(found, cfg.Adapter(b).Detect(cmd.Context()))
	}
	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, found)
	}

	printHeader(out, "Agents")
	rows := make([][]string, 0, len(found))
	for _, inst := range found {
		name := string(inst.Backend)
		if string(inst.Backend) == cfg.Agent {
			name += " *"
		}
		status := colorRed + "missing" + colorReset
		path := inst.Command
		if inst.Installed {
			status = colorGreen + inst.Version + colorReset
			path = inst.Path
		}
		rows = append(rows, []string{name, status, path})
	}
	printTable(out, []string{"AGENT", "VERSION", "PATH"}, rows)
	return nil
}
