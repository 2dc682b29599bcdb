// Command durablectl migrates the durable schema, runs maintenance workers
// and administers workflow instances.
//
// Applications that want the worker to re-enter their own workflows build
// their own binary around cli.NewCommand(cli.WithSetup(...)).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nexus-link/durable/cli"
)

func main() {
	if err := cli.NewCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "durablectl:", err)
		os.Exit(1)
	}
}
