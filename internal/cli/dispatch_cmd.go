package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agusx1211/baton/internal/agent"
	"github.com/agusx1211/baton/internal/dispatch"
	"github.com/agusx1211/baton/internal/session"
)

var dispatchCmd = &cobra.Command{
	Use:     "dispatch",
	Aliases: []string{"run"},
	Short:   "Start agents on tracker issues",
	Long: `Create an isolated worktree for each task and start a coding agent in it.

A single task comes from --task/--title/--body. Several tasks can be given
with --from, a JSON file holding an array of {"id", "title", "body"}
objects; they are dispatched in parallel.

Without --wait baton returns as soon as the agents are running; they keep
going in the background. Run 'baton watch' or 'baton monitor' to keep
statistics current and get notified when they finish.`,
	Example: `  baton dispatch --task 42 --title "Login fails on Safari" --body-file issue.md
  baton dispatch --agent codex --from tasks.json --wait`,
	RunE: runDispatch,
}

func init() {
	f := dispatchCmd.Flags()
	f.String("repo", ".", "Repository to work on")
	f.String("agent", "", "Agent backend (claude, opencode, codex; default from config)")
	f.Int("task", 0, "Task (issue) number")
	f.String("title", "", "Task title")
	f.String("body", "", "Task body")
	f.String("body-file", "", "Read the task body from a file ('-' for stdin)")
	f.String("kind", "", "What the task is called in the prompt (default \"GitHub issue\")")
	f.String("instructions", "", "Extra instructions appended to the prompt")
	f.String("from", "", "JSON file with an array of tasks")
	f.Bool("wait", false, "Wait for the agents to finish")
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	reqs, err := dispatchRequests(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	sup := e.supervisor()
	defer sup.Shutdown()

	ctx := cmd.Context()
	results := sup.DispatchAll(ctx, reqs)

	failed := 0
	var started []session.Session
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "  %s✗%s #%d %s: %v\n", colorRed, colorReset, r.Request.Task.ID, truncate(r.Request.Task.Title, 40), r.Err)
			continue
		}
		started = append(started, r.Session)
		fmt.Fprintf(out, "  %s✓%s #%d %s  %s%s%s  %s (pid %s)\n",
			colorGreen, colorReset, r.Session.TaskID, truncate(r.Session.TaskTitle, 40),
			colorDim, r.Session.ShortID(), colorReset, r.Session.Backend, r.Session.PID)
		fmt.Fprintf(out, "      %sworktree%s %s\n", colorDim, colorReset, r.Session.WorkspacePath)
	}

	wait, _ := cmd.Flags().GetBool("wait")
	if wait && len(started) > 0 {
		fmt.Fprintf(out, "\nWaiting for %d session(s)...\n", len(started))
		for _, s := range started {
			rec, err := sup.WaitFor(ctx, s.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  #%d %s%s%s  %s\n", rec.TaskID, statusColor(rec.Status), rec.Status, colorReset, formatStats(rec.Stats))
			if !rec.Status.Succeeded() {
				failed++
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d task(s) did not succeed", failed, len(reqs))
	}
	return nil
}

func dispatchRequests(cmd *cobra.Command) ([]dispatch.Request, error) {
	f := cmd.Flags()
	repo, _ := f.GetString("repo")
	agentName, _ := f.GetString("agent")
	instructions, _ := f.GetString("instructions")
	kind, _ := f.GetString("kind")
	from, _ := f.GetString("from")

	var backend agent.Backend
	if agentName != "" {
		b, err := agent.ParseBackend(agentName)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	var tasks []session.TaskDescriptor
	if from != "" {
		if f.Changed("task") || f.Changed("title") {
			return nil, fmt.Errorf("--from cannot be combined with --task/--title")
		}
		loaded, err := readTasks(from, cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		tasks = loaded
	} else {
		id, _ := f.GetInt("task")
		title, _ := f.GetString("title")
		body, err := taskBody(cmd)
		if err != nil {
			return nil, err
		}
		if id <= 0 {
			return nil, fmt.Errorf("--task must be a positive issue number")
		}
		if strings.TrimSpace(title) == "" {
			return nil, fmt.Errorf("--title is required")
		}
		tasks = []session.TaskDescriptor{{ID: id, Title: title, Body: body}}
	}

	reqs := make([]dispatch.Request, 0, len(tasks))
	for _, t := range tasks {
		if t.Kind == "" {
			t.Kind = kind
		}
		reqs = append(reqs, dispatch.Request{
			RepoPath:     repo,
			Task:         t,
			Backend:      backend,
			Instructions: instructions,
		})
	}
	return reqs, nil
}

func taskBody(cmd *cobra.Command) (string, error) {
	body, _ := cmd.Flags().GetString("body")
	file, _ := cmd.Flags().GetString("body-file")
	if file == "" {
		return body, nil
	}
	if body != "" {
		return "", fmt.Errorf("use either --body or --body-file")
	}
	data, err := readInput(file, cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(data), nil
}

func readTasks(path string, stdin io.Reader) ([]session.TaskDescriptor, error) {
	data, err := readInput(path, stdin)
	if err != nil {
		return nil, fmt.Errorf("reading tasks: %w", err)
	}
	var tasks []session.TaskDescriptor
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%s holds no tasks", path)
	}
	seen := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		if t.ID <= 0 {
			return nil, fmt.Errorf("%s: task id must be positive, got %d", path, t.ID)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%s: task #%d listed twice", path, t.ID)
		}
		seen[t.ID] = true
	}
	return tasks, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func formatStats(st session.Stats) string {
	return fmt.Sprintf("%s+%d%s/%s-%d%s in %d files, %d output lines",
		colorGreen, st.LinesAdded, colorReset, colorRed, st.LinesRemoved, colorReset, st.FilesChanged, st.OutputLines)
}
