package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yndnr/meshstore/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		}
		os.Exit(command.ExitCode(err))
	}
}
