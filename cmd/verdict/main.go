// Command verdict settles prediction markets from SettlementRequested events.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/verdict/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "verdict:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
