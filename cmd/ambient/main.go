// Command ambient runs and inspects scope propagation scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ambient/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
