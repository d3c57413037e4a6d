// Copyright 2025 AetherEngine
//
// Aether CLI entrypoint. The exit code comes from the CLI error taxonomy:
// usage=2, config=10, runtime=20, io=30, network=40.

package main

import (
	"fmt"
	"os"

	"github.com/aether-engine/aether/pkg/cli"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
