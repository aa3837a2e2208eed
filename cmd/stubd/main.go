package main

import (
	"fmt"
	"os"

	"github.com/tracekit/tracetest/internal/cli"
)

func main() {
	if err := cli.NewStubdCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
