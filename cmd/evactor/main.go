// Command evactor runs event-sourced actors from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/evactor/internal/cli"
	"github.com/roach88/evactor/internal/ir"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = ir.RuntimeVersion

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "evactor:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
