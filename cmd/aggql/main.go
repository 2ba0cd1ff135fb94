// Package main is the entry point for the aggql CLI binary.
package main

import (
	"os"

	"github.com/roach88/aggql/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
