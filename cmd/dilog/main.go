// Command dilog inspects .dilog trace files written by the dilog
// library. It is an operator tool, not part of the library's live API
// (spec §6); an instrumented application never imports this package.
package main

import (
	"fmt"
	"os"

	"github.com/rtjones/dilog/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
