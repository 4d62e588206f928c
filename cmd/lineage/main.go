// Command lineage records and queries the provenance graph of workflow runs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lineage/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
