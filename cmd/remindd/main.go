package main

import (
	"context"
	"fmt"
	"os"

	"remindd/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "remindd:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
