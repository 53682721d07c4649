package worktree

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DiffStat summarizes a workspace's changes against its base branch.
type DiffStat struct {
	LinesAdded   int
	LinesRemoved int
	FilesChanged int
}

// ParseNumstat aggregates `git diff --numstat` output. Each line is
// "<added>\t<removed>\t<path>"; binary files report "-" and count as zero
// lines but still count as a changed file.
func ParseNumstat(out string) DiffStat {
	var st DiffStat
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(strings.TrimRight(line, "\r"), "\t", 3)
		if len(fields) < 3 {
			continue
		}
		st.LinesAdded += numstatCount(fields[0])
		st.LinesRemoved += numstatCount(fields[1])
		st.FilesChanged++
	}
	return st
}

func numstatCount(field string) int {
	n, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// DiffStats diffs the workspace, including uncommitted work, against the
// merge base of HEAD and baseBranch. When no merge base can be found it
// falls back to the diff against HEAD.
func DiffStats(ctx context.Context, workspacePath, baseBranch string) (DiffStat, error) {
	if _, err := os.Stat(workspacePath); err != nil {
		return DiffStat{}, fmt.Errorf("workspace %s: %w", workspacePath, err)
	}

	ref := "HEAD"
	if base := detectBase(ctx, workspacePath, baseBranch); base != "" {
		if out, err := gitIn(ctx, workspacePath, "merge-base", "HEAD", base); err == nil {
			if mb := strings.TrimSpace(out); mb != "" {
				ref = mb
			}
		}
	}

	out, err := gitIn(ctx, workspacePath, "diff", "--numstat", ref)
	if err != nil {
		return DiffStat{}, err
	}
	return ParseNumstat(out), nil
}

func detectBase(ctx context.Context, workspacePath, preferred string) string {
	candidates := []string{"main", "master"}
	if preferred != "" {
		candidates = append([]string{preferred}, candidates...)
	}
	for _, name := range candidates {
		if _, err := gitIn(ctx, workspacePath, "rev-parse", "--verify", "--quiet", "refs/heads/"+name); err == nil {
			return name
		}
	}
	return ""
}
