// Command baton delegates tracker issues to coding-agent CLIs, each working
// in its own git worktree.
package main

import "github.com/agusx1211/baton/internal/cli"

func main() {
	cli.Execute()
}
