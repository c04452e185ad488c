// Command factrule evaluates CUE rule sets over facts.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/factrule/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
