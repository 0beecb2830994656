// Command vend is the operator CLI for the purchase lifecycle engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/vend/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
