// Command bitstrat runs scripted bit-string strategies.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/bitstrat/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "bitstrat:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
